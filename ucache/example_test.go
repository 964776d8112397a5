package ucache_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	httpclient "github.com/userloc/go-userloc/lookup/client/http"
	"github.com/userloc/go-userloc/ucache"
)

func ExampleUserCache_Lookup() {
	// Stand in for the live upstream API.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"user":{"result":{
			"legacy":{"screen_name":"alice123"},
			"location":{"place":"Lisbon, Portugal","detail":{"device":"iPhone","accuracy_hint":"precise"}}
		}}}}`)
	}))
	defer upstream.Close()

	source, err := httpclient.NewUpstream(upstream.URL)
	if err != nil {
		panic(err)
	}
	source.SetCredentials("session-token")

	uc, err := ucache.New(ucache.WithSource(source))
	if err != nil {
		panic(err)
	}
	defer uc.Close()

	// First lookup goes to the live tier. Input is normalized, so the
	// leading @ and the capitalization do not matter.
	res, err := uc.Lookup(context.Background(), "@Alice123")
	if err != nil {
		panic(err)
	}
	fmt.Println(res.Tier, res.Info.Location)

	// Second lookup is answered locally.
	res, err = uc.Lookup(context.Background(), "alice123")
	if err != nil {
		panic(err)
	}
	fmt.Println(res.Tier, res.Info.Location)

	// Output:
	// live Lisbon, Portugal
	// local Lisbon, Portugal
}
