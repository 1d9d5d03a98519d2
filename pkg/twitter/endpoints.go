package twitter

// DefaultBaseURL is the live API host. Tests point the client elsewhere.
const DefaultBaseURL = "https://x.com"

// publicBearerToken is the web app's public guest bearer. Requests still need
// the session cookies to pass authentication.
const publicBearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

const (
	settingsPath = "/i/api/1.1/account/settings.json"
	searchPath   = "/i/api/2/search/adaptive.json"
)
