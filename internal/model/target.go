package model

// Target is one purchasable candidate. Weight is a priority: higher weight is tried earlier.
type Target struct {
	URL    string `json:"url" yaml:"url"`
	Weight int    `json:"weight" yaml:"weight"`
}
