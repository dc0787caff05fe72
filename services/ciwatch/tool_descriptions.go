package ciwatch

// ciWatchDailyPrompt is the canned prompt served at prompt://ci-watch-daily.
const ciWatchDailyPrompt = `I'm on CI watch today, for vLLM! My role is to look at latest nightly build and assess if I need to take action.

Use ciwatch.scan_latest_nightly (pipeline vllm/ci, branch main, repo vllm-project/vllm, search_github=true).

Then give me:

- the Daily Findings output (copy/paste ready)
- the Standup summary output (copy/paste ready)

For soft failed tests, just briefly list. Focus on hard failures, those are the only ones where I am required to take action.`

const kScanLatestNightlyDescription = `
Scans the latest nightly (scheduled) build of a Buildkite pipeline for test failures. Fetches the
build's failed jobs, extracts individual pytest failures from their logs, classifies each into a
triage category (KNOWN_TRACKED, INFRA_SUSPECTED, FLAKY_SUSPECTED, NEW_REGRESSION,
NEEDS_HUMAN_TRIAGE), deduplicates across jobs, and returns the structured scan result. With
detail_level=full the result also carries the rendered Daily Findings and Standup text.
`

const kScanBuildDescription = `
Scans one specific build for test failures. Accepts either a bare build number or a full
Buildkite build URL. Behaves like scan_latest_nightly but skips nightly resolution.
`

const kTestHistoryDescription = `
Reconstructs one test's pass/fail timeline across the recent builds of a branch to distinguish a
regression from a flake. Returns the chronological timeline, an assessment (REGRESSION,
FLAKE_ONSET, PERSISTENT_FAIL, SPORADIC or INSUFFICIENT_DATA with confidence), and a markdown
summary. Log fetching is bounded by a byte budget; when the budget runs out the scan stops early
and reports a warning instead of failing.
`

const kTestHistoryAnalyticsDescription = `
Looks a test up in the Buildkite Test Analytics suite and summarizes its recent runs: whether it
failed recently and whether the recent runs mix passes and failures (flaky).
`

const kGetJobTestFailuresDescription = `
Extracts the pytest failures from a single job of a build. The job is selected by exact name,
case-insensitive fuzzy substring, or job id depending on match_strategy; ambiguous or unmatched
selections return the candidate jobs so the caller can retry.
`

const kGetTestAnalyticsBulkDescription = `
Looks up many pytest nodeids in the Buildkite Test Analytics suite in one call. Each nodeid is
split into (scope, name) on the first "::" and matched against the suite's test list, tolerating
parametrized names by also comparing base names with the "[...]" parameters stripped. Returns
results, not_found, multiple_matches and warnings.
`

const kRenderDescription = `
Renders a scan result as text: the detailed Daily Findings report or the one-line Standup
summary.
`
