// Package storage persists one document per tenant: the tenant's scheduled
// tasks, message templates and activity log. All mutations go through
// Store.Update, which applies a read-modify-write as one atomic step relative
// to other updates on the same tenant.
package storage
