package signer

type Decision int

const (
	Deny Decision = iota
	Approve
	AskUser
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case AskUser:
		return "ask_user"
	default:
		return "deny"
	}
}

// PolicyInput is everything a policy may look at. Trusted and Remembered
// are derived from the state machine's approval set.
type PolicyInput struct {
	Peer        string
	Method      Method
	EventKind   int
	Trusted     bool
	Remembered  bool
	SecretGiven bool
	SecretValid bool
}

type Policy interface {
	Decide(in PolicyInput) Decision
}

// DefaultPolicy approves pings and remembered operations, lets trusted peers
// use the cipher proxy and asks the user about everything else.
type DefaultPolicy struct {
	AutoApproveKinds []int
}

func (p DefaultPolicy) Decide(in PolicyInput) Decision {
	switch in.Method {
	case MethodPing:
		return Approve
	case MethodConnect:
		switch {
		case in.SecretGiven && in.SecretValid:
			return Approve
		case in.SecretGiven:
			return Deny
		case in.Trusted:
			return Approve
		default:
			return AskUser
		}
	case MethodGetPublicKey:
		if in.Trusted || in.Remembered {
			return Approve
		}
		return AskUser
	case MethodSignEvent:
		if in.Remembered {
			return Approve
		}
		if in.Trusted && p.autoApproves(in.EventKind) {
			return Approve
		}
		return AskUser
	case MethodNip04Encrypt, MethodNip04Decrypt, MethodNip44Encrypt, MethodNip44Decrypt:
		if in.Trusted || in.Remembered {
			return Approve
		}
		return AskUser
	default:
		return Deny
	}
}

func (p DefaultPolicy) autoApproves(kind int) bool {
	for _, k := range p.AutoApproveKinds {
		if k == kind {
			return true
		}
	}
	return false
}
