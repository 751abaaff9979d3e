// Package domain holds the types shared by the phrase store, the schedule
// registry and the publish coordinator, plus the single place where channel
// ids and times of day are validated.
package domain
