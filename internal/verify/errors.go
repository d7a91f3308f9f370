package verify

// Error is a user-reportable verification failure. Code follows the original
// operator convention of five-digit support codes printed in the error embed;
// the codes exist for triage correlation only.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// user input errors: reported, never retried automatically
	ErrChannelNotAllowed = &Error{Code: "40001", Message: "지정된 채널에서만 이용할 수 있습니다."}
	ErrAlreadyVerified   = &Error{Code: "40901", Message: "이미 인증된 사용자입니다."}
	ErrAccountNotFound   = &Error{Code: "40401", Message: "Roblox 계정을 찾을 수 없습니다."}
	ErrChallengeMismatch = &Error{Code: "40601", Message: "프로필 소개에서 인증번호를 찾을 수 없습니다."}

	// the user pressed decline; terminal for the attempt, not an error state
	ErrDeclined = &Error{Code: "40301", Message: "본인인증이 거부되었습니다."}

	// the resolved Roblox account is on the ban ledger; the flow stops
	// before a challenge is ever issued
	ErrBannedIdentity = &Error{Code: "40302", Message: "차단된 계정입니다."}

	// session-integrity: stale button or modal with no matching record
	ErrSessionExpired = &Error{Code: "41001", Message: "세션이 만료되었습니다. 인증을 처음부터 다시 시작해주세요."}

	// transient upstream failure; the flow keeps its state so the user
	// can simply retry
	ErrResolverUnavailable = &Error{Code: "50301", Message: "Roblox 서비스에 연결할 수 없습니다. 잠시 후 다시 시도해주세요."}
)
