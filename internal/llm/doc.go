// Package llm abstracts the large language model backends used by citizen
// agents. Providers live in sub-packages and all satisfy Client.
package llm
