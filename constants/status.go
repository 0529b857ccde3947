package constants

// ExtractionStatus is the lifecycle state of a stored extraction.
type ExtractionStatus string

// Stable values (store these exact strings in DB).
const (
	StatusToRecognize ExtractionStatus = "TO_RECOGNIZE" // text stored, category unknown
	StatusToExtract   ExtractionStatus = "TO_EXTRACT"   // category known, JSON pending
	StatusToVerify    ExtractionStatus = "TO_VERIFY"    // JSON produced, awaiting user check
	StatusProcessed   ExtractionStatus = "PROCESSED"    // verified by the user
)

var statusOrder = map[ExtractionStatus]int{
	StatusToRecognize: 0,
	StatusToExtract:   1,
	StatusToVerify:    2,
	StatusProcessed:   3,
}

// Valid reports whether s is one of the known statuses.
func (s ExtractionStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// CanTransition allows only single forward steps.
func (s ExtractionStatus) CanTransition(to ExtractionStatus) bool {
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	next, ok := statusOrder[to]
	if !ok {
		return false
	}
	return next == from+1
}
