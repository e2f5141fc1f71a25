package plant

// State 会话状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentified
	StateLoggedOn
	StateQuerying
	StateLoggedOff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateLoggedOn:
		return "logged_on"
	case StateQuerying:
		return "querying"
	case StateLoggedOff:
		return "logged_off"
	default:
		return "unknown"
	}
}

// ready 已完成握手，可以登录/查询
func (s State) ready() bool {
	switch s {
	case StateIdentified, StateLoggedOn, StateQuerying, StateLoggedOff:
		return true
	}
	return false
}
