package models

import (
	"sort"
	"strings"
)

// Categories maps upstream category ids to display names.
var Categories = map[string]string{
	"1":  "Film & Animation",
	"2":  "Autos & Vehicles",
	"10": "Music",
	"15": "Pets & Animals",
	"17": "Sports",
	"18": "Short Movies",
	"19": "Travel & Events",
	"20": "Gaming",
	"21": "Videoblogging",
	"22": "People & Blogs",
	"23": "Comedy",
	"24": "Entertainment",
	"25": "News & Politics",
	"26": "Howto & Style",
	"27": "Education",
	"28": "Science & Technology",
	"29": "Nonprofits & Activism",
	"30": "Movies",
	"31": "Anime/Animation",
	"32": "Action/Adventure",
	"33": "Classics",
	"34": "Documentary",
	"35": "Drama",
	"36": "Family",
	"37": "Foreign",
	"38": "Horror",
	"39": "Sci-Fi/Fantasy",
	"40": "Thriller",
	"41": "Shorts",
	"42": "Shows",
	"43": "Trailers",
	"44": "Tech",
}

// categoryIDs is the lookup order for name matching; numeric ascending so that
// partial matches resolve the same way on every run.
var categoryIDs = func() []string {
	ids := make([]string, 0, len(Categories))
	for id := range Categories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}()

// CategoryIDByName resolves a category name to its id using a case-insensitive
// partial match. It returns false when nothing matches.
func CategoryIDByName(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	for _, id := range categoryIDs {
		if strings.Contains(strings.ToLower(Categories[id]), name) {
			return id, true
		}
	}
	return "", false
}
