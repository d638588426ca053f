package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Authenticate.Codec != nil && s.deps.Authenticate.Blacklist != nil
}

func (s Service) Login(ctx context.Context, in LoginInput) LoginResult {
	return RunLogin(ctx, in, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, in RefreshInput) RefreshResult {
	return RunRefresh(ctx, in, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, accessToken, refreshToken string) LogoutResult {
	return RunLogout(ctx, accessToken, refreshToken, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, userID, currentAccess string) (LogoutAllResult, error) {
	return RunLogoutAll(ctx, userID, currentAccess, s.deps.Logout)
}

func (s Service) RevokeSession(ctx context.Context, userID, tokenID string) (bool, error) {
	return RunRevokeSession(ctx, userID, tokenID, s.deps.Logout)
}

func (s Service) Authenticate(ctx context.Context, tokenStr string) AuthenticateResult {
	return RunAuthenticate(ctx, tokenStr, s.deps.Authenticate)
}
