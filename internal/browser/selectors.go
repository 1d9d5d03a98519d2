package browser

// Selector priority lists for each structural point in the login flow. The
// platform reshuffles its DOM regularly; earlier entries are the currently
// observed markup, later ones are older variants that still appear on some
// rollout cohorts. Every list must be exhausted before the flow reports the
// element missing.
var (
	usernameSelectors = []string{
		`input[autocomplete="username"]`,
		`input[name="text"]`,
		`input[type="text"]`,
	}

	nextButtonSelectors = []string{
		`//span[text()="Next"]`,
		`div[role="button"][style*="background-color"]`,
	}

	passwordSelectors = []string{
		`input[name="password"]`,
		`input[autocomplete="current-password"]`,
		`input[type="password"]`,
	}

	loginButtonSelectors = []string{
		`button[data-testid="LoginForm_Login_Button"]`,
		`//span[text()="Log in"]`,
	}

	challengeInputSelectors = []string{
		`input[data-testid="ocfEnterTextTextInput"]`,
		`input[name="text"]`,
	}

	challengeNextSelectors = []string{
		`button[data-testid="ocfEnterTextNextButton"]`,
		`//span[text()="Next"]`,
	}

	loggedInSelectors = []string{
		`a[data-testid="AppTabBar_Home_Link"]`,
		`div[data-testid="primaryColumn"]`,
		`a[aria-label="Profile"]`,
	}
)

// blockedPathFragments are URL fragments that mean the account has been
// flagged and the flow must stop immediately; retrying a flagged account
// deepens the lock.
var blockedPathFragments = []string{
	"password_reset",
	"account_access",
}

const (
	homeURL  = "https://x.com/"
	loginURL = "https://x.com/i/flow/login"
)
