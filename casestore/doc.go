// Storage for moderation action records ("cases").
//
// Includes an interface and implementations using an SQL database (via gorm) and in-process memory.
//
// The lifecycle engine relies on the conditional updates here, rather than an in-process lock, to resolve races between manual revocation and scheduled expiry of the same action.
package casestore
