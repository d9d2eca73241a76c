// Package totp implements RFC 4226 / RFC 6238 one-time passwords and single-use backup
// codes for the second authentication factor.
//
// Verification never returns an error for bad input: a malformed secret or code is simply
// a failed check, so a corrupt stored secret degrades to "second factor rejected" instead of
// breaking the login path. Configuration problems surface from [New] at startup.
//
// Backup-code helpers are pure. [VerifyBackupCode] reports which stored hash matched; the
// caller removes it from storage.
package totp
