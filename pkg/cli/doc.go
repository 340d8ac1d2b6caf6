// Package cli provides the glimpse-cli command-line interface for operating a
// running glimpse agent over its host API.
//
// # Commands
//
// report: Print the derived dashboard metrics
//
//	glimpse-cli report --refresh
//
// consent: Show or record the visitor's consent decision
//
//	glimpse-cli consent
//	glimpse-cli consent accept-all
//	glimpse-cli consent set --analytics --marketing=false
//
// track: Capture a page view or a custom event
//
//	glimpse-cli track --path /pricing --title Pricing
//	glimpse-cli track --event signup_click --data '{"plan":"pro"}'
//
// navigate: Drive the agent's navigation history
//
//	glimpse-cli navigate push /pricing
//	glimpse-cli navigate back
//
// export: Download every stored record
//
//	glimpse-cli export --format csv --out glimpse.csv
//
// erase: Clear all stored analytics data. Consent is kept.
//
//	glimpse-cli erase --yes
//
// status: Show consent and the live session
//
//	glimpse-cli status
//
// # Agent Flags
//
// Every command accepts --agent (default $GLIMPSE_AGENT_URL or
// http://127.0.0.1:7480), --timeout and --log-level.
package cli
