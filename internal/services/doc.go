// Package services defines the shared error taxonomy used by stage
// handlers and the classification helpers the workflow manager relies
// on when recording a failed run.
package services
