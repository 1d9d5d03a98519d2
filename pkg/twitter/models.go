package twitter

import (
	"sort"
	"time"

	"marketpulse/pkg/errors"
)

// Post is one search result in platform terms, before normalization and
// dedup hashing.
type Post struct {
	PlatformID string
	Author     string
	Text       string
	Hashtags   []string
	Mentions   []string
	CreatedAt  time.Time
	Likes      int
	Retweets   int
	Replies    int
}

// SearchPage is one decoded page of search results. Malformed counts entries
// the page contained but the decoder had to drop.
type SearchPage struct {
	Posts        []Post
	BottomCursor string
	Malformed    int
}

// searchResponse mirrors the adaptive search payload: posts and authors come
// as flat id-keyed maps, pagination cursors ride inside timeline entries.
type searchResponse struct {
	GlobalObjects struct {
		Tweets map[string]tweetJSON `json:"tweets"`
		Users  map[string]userJSON  `json:"users"`
	} `json:"globalObjects"`
	Timeline struct {
		Instructions []struct {
			AddEntries struct {
				Entries []timelineEntry `json:"entries"`
			} `json:"addEntries"`
			ReplaceEntry struct {
				Entry timelineEntry `json:"entry"`
			} `json:"replaceEntry"`
		} `json:"instructions"`
	} `json:"timeline"`
}

type tweetJSON struct {
	IDStr         string `json:"id_str"`
	FullText      string `json:"full_text"`
	UserIDStr     string `json:"user_id_str"`
	CreatedAt     string `json:"created_at"`
	FavoriteCount int    `json:"favorite_count"`
	RetweetCount  int    `json:"retweet_count"`
	ReplyCount    int    `json:"reply_count"`
	Entities      struct {
		Hashtags []struct {
			Text string `json:"text"`
		} `json:"hashtags"`
		UserMentions []struct {
			ScreenName string `json:"screen_name"`
		} `json:"user_mentions"`
	} `json:"entities"`
}

type userJSON struct {
	ScreenName string `json:"screen_name"`
}

type timelineEntry struct {
	EntryID string `json:"entryId"`
	Content struct {
		Operation struct {
			Cursor struct {
				Value      string `json:"value"`
				CursorType string `json:"cursorType"`
			} `json:"cursor"`
		} `json:"operation"`
	} `json:"content"`
}

// createdAtLayout is the legacy ruby-style timestamp the search API still
// emits: "Wed Oct 10 20:19:24 +0000 2018".
const createdAtLayout = time.RubyDate

func (r *searchResponse) toPage() *SearchPage {
	page := &SearchPage{}

	for _, tw := range r.GlobalObjects.Tweets {
		post, err := r.decodeTweet(tw)
		if err != nil {
			page.Malformed++
			continue
		}
		page.Posts = append(page.Posts, post)
	}

	// Map iteration order is random; keep pages newest-first like the UI.
	sort.Slice(page.Posts, func(i, j int) bool {
		return page.Posts[i].CreatedAt.After(page.Posts[j].CreatedAt)
	})

	page.BottomCursor = r.bottomCursor()
	return page
}

// decodeTweet validates one raw entry. Entries missing their id, text or
// author, or carrying an unparseable timestamp, are dropped as malformed.
func (r *searchResponse) decodeTweet(tw tweetJSON) (Post, error) {
	author := r.GlobalObjects.Users[tw.UserIDStr].ScreenName
	if tw.IDStr == "" || tw.FullText == "" || author == "" {
		return Post{}, errors.New(errors.ErrorTypeMalformedRecord, "entry missing id, text or author")
	}
	createdAt, err := time.Parse(createdAtLayout, tw.CreatedAt)
	if err != nil {
		return Post{}, errors.Newf(errors.ErrorTypeMalformedRecord, "bad created_at %q", tw.CreatedAt)
	}

	post := Post{
		PlatformID: tw.IDStr,
		Author:     author,
		Text:       tw.FullText,
		CreatedAt:  createdAt.UTC(),
		Likes:      tw.FavoriteCount,
		Retweets:   tw.RetweetCount,
		Replies:    tw.ReplyCount,
	}
	for _, h := range tw.Entities.Hashtags {
		if h.Text != "" {
			post.Hashtags = append(post.Hashtags, h.Text)
		}
	}
	for _, m := range tw.Entities.UserMentions {
		if m.ScreenName != "" {
			post.Mentions = append(post.Mentions, m.ScreenName)
		}
	}
	return post, nil
}

func (r *searchResponse) bottomCursor() string {
	for _, instr := range r.Timeline.Instructions {
		entries := append([]timelineEntry{}, instr.AddEntries.Entries...)
		if instr.ReplaceEntry.Entry.EntryID != "" {
			entries = append(entries, instr.ReplaceEntry.Entry)
		}
		for _, e := range entries {
			c := e.Content.Operation.Cursor
			if c.CursorType == "Bottom" && c.Value != "" {
				return c.Value
			}
		}
	}
	return ""
}
