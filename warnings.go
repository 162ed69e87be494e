package webauthn

// WarningCode identifies the kind of non-fatal advisory attached to a
// ceremony result (spec.md §7: "Warnings are non-fatal advisories
// collected in a list").
type WarningCode int

// enum values for WarningCode
const (
	WarningNoMetadataFound WarningCode = iota
	WarningOCSPRevoked
	WarningNonNormalizedECDSASignature
	WarningCounterAtZero
	WarningUnrequestedExtension
)

var warningStrings = map[WarningCode]string{
	WarningNoMetadataFound:             "NoMetadataFound",
	WarningOCSPRevoked:                 "OCSPRevoked",
	WarningNonNormalizedECDSASignature: "NonNormalizedECDSASignature",
	WarningCounterAtZero:               "CounterAtZero",
	WarningUnrequestedExtension:        "UnrequestedExtension",
}

// String returns a human readable representation of the WarningCode.
func (c WarningCode) String() string {
	if s, ok := warningStrings[c]; ok {
		return s
	}
	return "Unknown"
}

// Warning is a non-fatal advisory surfaced alongside a successful (or
// failed) ceremony result. Warnings never change whether a ceremony
// itself succeeded; they exist purely to inform the caller's own risk
// scoring and logging.
type Warning struct {
	Code WarningCode
	Msg  string
}

// NewWarning builds a Warning from a code and human-readable message.
func NewWarning(code WarningCode, msg string) Warning {
	return Warning{Code: code, Msg: msg}
}

// String implements fmt.Stringer.
func (w Warning) String() string {
	return w.Code.String() + ": " + w.Msg
}
