package catalog

// Book is a catalog record the emulator can cite.
type Book struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Author  string   `json:"author"`
	Year    int      `json:"year"`
	Tags    []string `json:"tags,omitempty"`
	Summary string   `json:"summary"`
}

// Seed provides a small default catalog.
func Seed() []Book {
	return []Book{
		{
			ID:      "bk-dune",
			Title:   "Dune",
			Author:  "Frank Herbert",
			Year:    1965,
			Tags:    []string{"science fiction", "desert", "politics", "ecology"},
			Summary: "On the desert planet Arrakis, Paul Atreides is drawn into a struggle over the spice that holds an empire together.",
		},
		{
			ID:      "bk-left-hand",
			Title:   "The Left Hand of Darkness",
			Author:  "Ursula K. Le Guin",
			Year:    1969,
			Tags:    []string{"science fiction", "gender", "diplomacy", "winter"},
			Summary: "An envoy to the ice world Gethen tries to bring its ambisexual people into an interstellar union.",
		},
		{
			ID:      "bk-hobbit",
			Title:   "The Hobbit",
			Author:  "J. R. R. Tolkien",
			Year:    1937,
			Tags:    []string{"fantasy", "adventure", "dragons"},
			Summary: "Bilbo Baggins leaves the Shire with thirteen dwarves to reclaim a mountain treasure from the dragon Smaug.",
		},
		{
			ID:      "bk-sapiens",
			Title:   "Sapiens: A Brief History of Humankind",
			Author:  "Yuval Noah Harari",
			Year:    2011,
			Tags:    []string{"history", "anthropology", "nonfiction"},
			Summary: "A survey of human history from the cognitive revolution through agriculture, empire and science.",
		},
		{
			ID:      "bk-pragmatic",
			Title:   "The Pragmatic Programmer",
			Author:  "Andrew Hunt and David Thomas",
			Year:    1999,
			Tags:    []string{"programming", "software", "career", "nonfiction"},
			Summary: "Practical advice on writing flexible, maintainable software and growing as a working programmer.",
		},
	}
}
