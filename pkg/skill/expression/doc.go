// Package expression provides compiled expression evaluation for skill
// guards, built on expr-lang. Compiled programs are cached because guards
// are re-evaluated on every run of a skill.
package expression
