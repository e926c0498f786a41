package dnc

// Decision messages
const (
	MessageCheckingDisabled = "checking disabled"
	MessageNotListed        = "not listed"
	MessageBlockingDisabled = "blocking disabled"
	MessageBlocked          = "blocked by policy"
	MessageOverrideApproved = "override approved"
	MessageContextBypass    = "service communication bypass"
)

// Decision is the transient outcome of a contact check. It is never persisted.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Blocked      bool   `json:"blocked"`
	OverrideUsed bool   `json:"override_used"`
	Message      string `json:"message"`
}

// Allow returns an allowing decision with message.
func Allow(message string) Decision {
	return Decision{Allowed: true, Message: message}
}

// Block returns a blocking decision.
func Block() Decision {
	return Decision{Blocked: true, Message: MessageBlocked}
}
