// Package cli implements healthauthctl, the operator command line for the
// healthauth engine.
//
// Every command opens its own engine on top of a redisid identity client,
// runs, and closes it. Account-scoped commands take --email, prompt for the
// password and finish any phone or second-factor verification the sign-in
// asks for before doing their work. Texts and mails are written to stderr
// through the logger unless the App supplies its own senders.
package cli
