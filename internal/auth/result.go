package auth

// Method tags how a request was authenticated.
type Method string

const (
	MethodSession Method = "session"
	MethodAPIKey  Method = "api_key"
)

// Identity is the request-scoped authenticated identity. Permission lookup is
// variant-specific: session identities carry permissions derived from the
// user's admin flag, API key identities carry the key's own scoped-down set.
type Identity interface {
	Method() Method
	Permissions() []string
}

// SessionIdentity is published for bearer-token authenticated requests.
type SessionIdentity struct {
	SessionID int64    `json:"session_id"`
	JTI       string   `json:"-"`
	ExpiresAt string   `json:"expires_at"`
	UserPerms []string `json:"permissions"`
	Provider  string   `json:"auth_provider,omitempty"`
}

func (SessionIdentity) Method() Method          { return MethodSession }
func (s SessionIdentity) Permissions() []string { return s.UserPerms }

// APIKeyIdentity is published for API-key authenticated requests.
type APIKeyIdentity struct {
	KeyID     int64    `json:"api_key_id"`
	KeyName   string   `json:"api_key_name"`
	KeyPerms  []string `json:"api_key_permissions"`
	ExpiresAt string   `json:"api_key_expires_at,omitempty"`
}

func (APIKeyIdentity) Method() Method          { return MethodAPIKey }
func (k APIKeyIdentity) Permissions() []string { return k.KeyPerms }

// Result is the uniform outcome of an authentication operation. Failures are
// carried as values, never as panics or raw internal errors, so the transport
// layer can map kinds to status codes without inspecting error chains.
type Result struct {
	Ok          bool     `json:"success"`
	UserID      int64    `json:"user_id,omitempty"`
	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	IsAdmin     bool     `json:"is_admin,omitempty"`
	ErrKind     Kind     `json:"error,omitempty"`
	Message     string   `json:"error_message,omitempty"`
	Identity    Identity `json:"identity,omitempty"`
}

// Success builds a successful result for the given user fields.
func Success(userID int64, username, email, displayName string, isAdmin bool, id Identity) Result {
	return Result{
		Ok:          true,
		UserID:      userID,
		Username:    username,
		Email:       email,
		DisplayName: displayName,
		IsAdmin:     isAdmin,
		Identity:    id,
	}
}

// Failure builds a failed result from a core error and a caller-safe message.
func Failure(err error, message string) Result {
	return Result{Ok: false, ErrKind: KindOf(err), Message: message}
}
