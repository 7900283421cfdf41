// Package tracker defines the domain model of the price-check pipeline: the
// entities read and written by a check, the collaborator interfaces the
// pipeline depends on, and the failure taxonomy that drives retry decisions.
package tracker
