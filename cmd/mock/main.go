package main

import (
	crand "crypto/rand"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"
)

// mock serves a tiny retail site with the same page structure the bot expects, so a
// full run can be exercised against a real browser without touching a live store.
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	products := flag.String("products", "gpu-a,gpu-b,gpu-c", "comma separated product skus")
	inStock := flag.String("in-stock", "", "skus that are always in stock")
	stockRate := flag.Float64("stock-rate", 0.3, "chance any other sku shows as in stock per page view")
	flag.Parse()

	site := newSite(splitList(*products), splitList(*inStock), *stockRate)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           site.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock site listening on %s", *addr)
	log.Fatal(srv.ListenAndServe())
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n <= 0 {
		return ""
	}
	raw := make([]byte, n)
	_, _ = crand.Read(raw)
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(raw[i])%len(letters)]
	}
	return string(out)
}
