// Package password hashes credentials with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Compare always performs one derivation, falling back to a dummy hash
// when the account has no stored credential, so login timing does not
// reveal whether an email is registered.
package password
