package flows

import "context"

// PhoneIntent is the caller-supplied purpose of a confirmed phone code.
type PhoneIntent uint8

const (
	IntentStandalone PhoneIntent = iota
	IntentLink
	IntentEnroll
	IntentResolve
)

// PhoneProof is the flow-local view of a confirmed phone code credential.
type PhoneProof struct {
	SessionID   string
	PhoneNumber string
	Proof       string
}

// LinkOrEnrollInput carries one confirmed code into the intent branch.
// ChallengeSession is only read for IntentResolve.
type LinkOrEnrollInput struct {
	Intent           PhoneIntent
	Proof            PhoneProof
	DisplayName      string
	ChallengeSession string
}

// LinkOrEnrollResult reports what the provider now holds for the account.
type LinkOrEnrollResult struct {
	Linked        bool
	Enrolled      bool
	AlreadyLinked bool
	// AccountID is set by a resolved sign-in challenge.
	AccountID string
}

// LinkOrEnrollMetrics carries metric IDs needed by the link/enroll flow.
type LinkOrEnrollMetrics struct {
	AlreadyLinkedAccepted int
	IncompleteSetup       int
}

// LinkOrEnrollErrors carries host-level sentinel errors.
type LinkOrEnrollErrors struct {
	EngineNotReady  error
	IncompleteSetup error
}

// LinkOrEnrollDeps captures link/enroll dependencies.
type LinkOrEnrollDeps struct {
	LinkPhone           func(context.Context, PhoneProof) error
	EnrollSecondFactor  func(context.Context, PhoneProof, string) error
	CountFactors        func(context.Context) (int, error)
	ResolveSecondFactor func(context.Context, string, PhoneProof) (string, error)
	IsAlreadyLinked     func(error) bool

	MetricInc func(int)
	Warn      func(context.Context, string, ...any)

	Metrics LinkOrEnrollMetrics
	Errors  LinkOrEnrollErrors
}

// RunLinkOrEnroll applies a confirmed phone credential according to intent.
//
// An already-linked rejection is never taken at face value for enrollment:
// the enrolled factor list is queried and only a non-empty list counts as
// success. An empty list is an inconsistent provider state and yields
// Errors.IncompleteSetup.
func RunLinkOrEnroll(ctx context.Context, in LinkOrEnrollInput, deps LinkOrEnrollDeps) (LinkOrEnrollResult, error) {
	switch in.Intent {
	case IntentStandalone:
		return LinkOrEnrollResult{}, nil

	case IntentLink:
		if deps.LinkPhone == nil {
			return LinkOrEnrollResult{}, deps.Errors.EngineNotReady
		}
		err := deps.LinkPhone(ctx, in.Proof)
		if err == nil {
			return LinkOrEnrollResult{Linked: true}, nil
		}
		if !deps.IsAlreadyLinked(err) {
			return LinkOrEnrollResult{}, err
		}
		metricInc(deps.MetricInc, deps.Metrics.AlreadyLinkedAccepted)
		return LinkOrEnrollResult{Linked: true, AlreadyLinked: true}, nil

	case IntentEnroll:
		if deps.EnrollSecondFactor == nil || deps.CountFactors == nil {
			return LinkOrEnrollResult{}, deps.Errors.EngineNotReady
		}
		err := deps.EnrollSecondFactor(ctx, in.Proof, in.DisplayName)
		if err == nil {
			return LinkOrEnrollResult{Enrolled: true}, nil
		}
		if !deps.IsAlreadyLinked(err) {
			return LinkOrEnrollResult{}, err
		}

		n, listErr := deps.CountFactors(ctx)
		if listErr != nil {
			warn(ctx, deps.Warn, "enrolled factor re-check failed", "error", listErr)
			return LinkOrEnrollResult{}, listErr
		}
		if n > 0 {
			metricInc(deps.MetricInc, deps.Metrics.AlreadyLinkedAccepted)
			return LinkOrEnrollResult{Enrolled: true, AlreadyLinked: true}, nil
		}
		metricInc(deps.MetricInc, deps.Metrics.IncompleteSetup)
		return LinkOrEnrollResult{}, deps.Errors.IncompleteSetup

	case IntentResolve:
		if deps.ResolveSecondFactor == nil {
			return LinkOrEnrollResult{}, deps.Errors.EngineNotReady
		}
		accountID, err := deps.ResolveSecondFactor(ctx, in.ChallengeSession, in.Proof)
		if err != nil {
			return LinkOrEnrollResult{}, err
		}
		return LinkOrEnrollResult{AccountID: accountID}, nil
	}

	return LinkOrEnrollResult{}, deps.Errors.EngineNotReady
}

func metricInc(fn func(int), id int) {
	if fn != nil {
		fn(id)
	}
}

func warn(ctx context.Context, fn func(context.Context, string, ...any), msg string, args ...any) {
	if fn != nil {
		fn(ctx, msg, args...)
	}
}
