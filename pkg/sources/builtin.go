package sources

import "net/http"

// FeedURLs holds the default endpoint per built-in provider. Overridable
// so deployments pointing at mirrors or test fixtures can swap endpoints
// without touching capability wiring.
type FeedURLs struct {
	Reference   string
	MicroSensor string
	Community   string
	Mobile      string
	Nuisance    string
}

// DefaultFeedURLs returns the production endpoints of the built-in
// provider set.
func DefaultFeedURLs() FeedURLs {
	return FeedURLs{
		Reference:   "https://api.atmosud.org/observations/stations/mesures",
		MicroSensor: "https://api.atmosud.org/observations/capteurs/mesures",
		Community:   "https://data.sensor.community/airrohr/v1/filter/area",
		Mobile:      "https://api.atmosud.org/observations/mobiles/mesures",
		Nuisance:    "https://www.signalair.eu/api/signalements",
	}
}

// BuiltinRegistry wires the default provider set into a registry. The
// shared client keeps connection reuse across providers; logf may be nil.
func BuiltinRegistry(urls FeedURLs, client *http.Client, logf func(string, ...any)) *Registry {
	r := NewRegistry()
	r.Register(CodeReference, &HTTPFeed{URL: urls.Reference, Code: CodeReference, DefaultUnit: "µg/m³", Client: client, Logf: logf})
	r.Register(CodeMicroSensor, &HTTPFeed{URL: urls.MicroSensor, Code: CodeMicroSensor, DefaultUnit: "µg/m³", Client: client, Logf: logf})
	r.Register(CodeCommunity, &HTTPFeed{URL: urls.Community, Code: CodeCommunity, DefaultUnit: "µg/m³", Client: client, Logf: logf})
	r.Register(CodeMobile, &HTTPFeed{URL: urls.Mobile, Code: CodeMobile, DefaultUnit: "µg/m³", Client: client, Logf: logf})
	r.Register(CodeNuisance, &HTTPFeed{URL: urls.Nuisance, Code: CodeNuisance, Reports: true, Client: client, Logf: logf})
	return r
}
