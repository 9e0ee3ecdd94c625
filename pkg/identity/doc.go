// Package identity maps authenticated principals to internal user ids.
//
// The token's subject is not consistently shaped: issuers have used the
// internal numeric id, a UUID, or an email address, and some only carry the
// address in an email claim. Resolution therefore runs an explicit ordered list
// of strategies, each independently testable:
//
//  1. SubjectAsID    subject is a positive integer
//  2. SubjectAsUUID  subject is a UUID, looked up by external id
//  3. SubjectAsEmail subject is an email address, looked up by email
//  4. EmailClaim     email claim, looked up by email
//
// The first strategy that matches wins. If none does, Resolve returns
// ErrIdentityUnresolved, which authorization treats as a denial. Directory
// failures are returned wrapped in storage.ErrUnavailable.
//
// Cryptographic token verification happens upstream; ParseBearer only reads
// claims.
package identity
