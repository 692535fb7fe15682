// Package auth validates client API keys presented at connection time.
package auth
