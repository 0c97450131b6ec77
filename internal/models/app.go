package models

// FeaturedApp is an entry in the catalog of known gated apps. Listings may
// reference one by ID, or carry a free-text AppName for apps not in the catalog.
type FeaturedApp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FeaturedApps is the built-in catalog. Matching against it is always
// case-insensitive on both ID and name.
var FeaturedApps = []FeaturedApp{
	{ID: "sora", Name: "Sora", URL: "https://sora.com"},
	{ID: "clanker", Name: "Clanker", URL: "https://clanker.world"},
	{ID: "bracket", Name: "Bracket", URL: "https://bracket.game"},
	{ID: "interface", Name: "Interface", URL: "https://interface.social"},
	{ID: "towns", Name: "Towns", URL: "https://towns.com"},
}

// FindFeaturedApp looks up a catalog entry by ID, exact match only.
func FindFeaturedApp(id string) *FeaturedApp {
	for i := range FeaturedApps {
		if FeaturedApps[i].ID == id {
			return &FeaturedApps[i]
		}
	}
	return nil
}

// AppDisplayName resolves the human-readable name for a listing's app
// association: catalog name when AppID is known, otherwise the free-text name.
func AppDisplayName(appID, appName string) string {
	if app := FindFeaturedApp(appID); app != nil {
		return app.Name
	}
	if appName != "" {
		return appName
	}
	return appID
}
