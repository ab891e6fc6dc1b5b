package flows

// Deps groups flow dependency sets. The root engine builds this once and
// delegates to the matching flow implementation.
type Deps struct {
	SignIn       SignInDeps
	LinkOrEnroll LinkOrEnrollDeps
}
