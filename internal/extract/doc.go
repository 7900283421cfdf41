// Package extract interprets declarative per-field extraction rules against a
// parsed product page, normalizes price text and recognizes anti-bot pages.
//
// A RuleSet maps each product field to an ordered list of rules. Rules are
// tried in order and the first one producing a non-empty value wins, so
// supporting a marketplace markup change means adding a rule, not code.
package extract
