// Package botstar implements the Bot* Discord bot: slash commands,
// presence-activity tracking, channel counters and image-card rendering,
// backed by a SQLite (or PostgreSQL) database.
//
// Key components of the package include:
//
//   - BotStar: The main struct that encapsulates the bot's core functionality.
//   - Discord: Handles Discord integration and gateway events.
//   - PresenceTracker: Normalizes and debounces presence updates for
//     users who have opted in to activity tracking.
//   - API: A read-only HTTP API exposing activity timelines and health.
//   - Database: Handles data persistence and retrieval.
//
// The bot supports the following commands:
//
//   - /activitytracking: Opt in/out of presence tracking, and render a
//     24-hour activity history card for a user.
//   - /timezone: Configure the timezone used to localize activity legends.
//   - /counter: Maintain channels whose names display live guild counts.
//
// The heart of the package is the activity pipeline: gateway presence
// events are normalized and debounced by [PresenceTracker], appended to
// the activity log as [ActivityRecord] rows, and on demand reconstructed
// into a dense fixed-interval timeline ([ReconstructTimeline]) which is
// summarized ([SummarizeBuckets]), labeled ([GenerateTimeLabels]) and
// rendered as a user activity card.
package botstar
