// Package core provides the business logic for bulk onboarding imports.
//
// This package contains all domain logic independent of any transport or
// storage backend. It can be used by web handlers, remote functions, or
// tests without modification; persistence is reached through the [Store]
// interface.
//
// # Pipeline
//
// An import file flows through these stages:
//
//  1. [ReadContent] strips a BOM, sanitizes UTF-8 and enforces the size limit
//  2. [ParseBytes] drops blank lines and an optional header, yielding [RawRow]s
//  3. [NormalizeFile] maps columns to canonical fields and cleans phone numbers
//  4. [ValidateRows] applies the field rules and the [UniquenessGuard],
//     producing a [ValidationSummary]
//  5. A [Provisioner] writes the valid rows and returns an [UploadResult]
//  6. [NewImportRecord] builds the audit record stored once per run
//
// Validation and provisioning are separate calls. [Service.Validate] lets an
// operator review a summary; [Service.StartImport] re-validates against the
// current store state before writing.
//
// # Provisioners
//
// [BatchProvisioner] writes identity/profile pairs in bounded atomic batches
// and reports progress after every batch. A failed batch is counted and the
// run continues. [CloudOffloadProvisioner] ships the raw file to a remote
// function and cannot report progress. [OffloadPolicy] picks between them by
// row count.
//
// # Concurrency
//
// Each run executes on its own goroutine. Only one run per role may be active
// at a time (see the runlock package), and [ImportLimiter] caps concurrent
// runs across roles. Progress is fanned out to subscribers through
// [Service.SubscribeProgress].
//
// # Error Handling
//
// Row problems are strings on [RowVerdict] and [UploadResult]; they never
// surface as Go errors. Technical errors are mapped to operator-facing
// messages using [MapError], with codes for support reference:
//
//   - FILE001-FILE005: File errors (size, binary content, empty)
//   - VAL001-VAL002: Request errors (role, strategy)
//   - IMP001-IMP006: Run errors (busy, not found, cancelled, timeout)
//   - OFF001-OFF002: Offload errors
//   - DB001-DB005: Store errors
package core
