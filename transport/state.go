package transport

// Mode is the role a session plays. It is chosen once.
type Mode uint8

const (
	ModeUnset Mode = iota
	ModeTag
	ModeAnchor
)

func (m Mode) String() string {
	switch m {
	case ModeTag:
		return "tag"
	case ModeAnchor:
		return "anchor"
	}
	return "unset"
}

// ParseMode accepts "tag" or "anchor".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "tag":
		return ModeTag, nil
	case "anchor":
		return ModeAnchor, nil
	}
	return ModeUnset, ErrUnknownMode
}

// RangingStep tracks the single in-flight radio operation.
type RangingStep uint8

const (
	StepIdle RangingStep = iota

	// tag
	StepBlinkSending
	StepBlinkSent
	StepPollSending
	StepPollSent
	StepRangePulled
	StepRangeSent

	// anchor
	StepRangeInitSending
	StepRangeInitSent
	StepPollAckPulled
	StepPollAckSent
	StepFinalPulled
	StepFinalSent
)

var stepNames = [...]string{
	StepIdle:             "Idle",
	StepBlinkSending:     "BlinkSending",
	StepBlinkSent:        "BlinkSent",
	StepPollSending:      "PollSending",
	StepPollSent:         "PollSent",
	StepRangePulled:      "RangePulled",
	StepRangeSent:        "RangeSent",
	StepRangeInitSending: "RangeInitSending",
	StepRangeInitSent:    "RangeInitSent",
	StepPollAckPulled:    "PollAckPulled",
	StepPollAckSent:      "PollAckSent",
	StepFinalPulled:      "FinalPulled",
	StepFinalSent:        "FinalSent",
}

func (s RangingStep) String() string {
	if int(s) < len(stepNames) {
		return stepNames[s]
	}
	return "Unknown"
}
