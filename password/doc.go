// Package password hashes and verifies account passwords and enforces the
// password rules shared by registration, reset and change flows.
//
// # Output format
//
// bcrypt hashes use the modular crypt format ($2a$/$2b$). Argon2id hashes are
// PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Multi] hashes with the configured algorithm and verifies either format. When
// a stored hash uses another algorithm or weaker parameters,
// [Multi.NeedsUpgrade] returns true so the caller can re-hash on the next
// successful login.
//
// # Architecture boundaries
//
// Hashing, strength rules ([CheckStrength]) and reuse detection ([IsReused])
// live here. Loading the current hash and its history is the account store's
// job; deciding when to run the checks is the Engine's.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
