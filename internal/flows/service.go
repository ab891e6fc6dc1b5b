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
	return s.deps.SignIn.SignIn != nil && s.deps.LinkOrEnroll.IsAlreadyLinked != nil
}

func (s Service) SignIn(ctx context.Context, email, password string) SignInResult {
	return RunSignIn(ctx, email, password, s.deps.SignIn)
}

func (s Service) LinkOrEnroll(ctx context.Context, in LinkOrEnrollInput) (LinkOrEnrollResult, error) {
	return RunLinkOrEnroll(ctx, in, s.deps.LinkOrEnroll)
}
