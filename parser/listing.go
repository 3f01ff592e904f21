package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	listingPriceSelector         = "p.styles_price__G3lbO"
	listingPriceFallbackSelector = "span.styles_price__vIwzP"
	nextDataSelector             = "script#__NEXT_DATA__"
	nextPageLabel                = "next"
)

// Listing is the result of scanning one listing page.
type Listing struct {
	// Links holds detail-page URLs of priced cards in document order.
	Links []string
	// NextToken is the cursor of the following page, empty on the last one.
	NextToken string
	// Err reports an unreadable pagination payload; Links stay usable.
	Err error
}

type nextData struct {
	Props struct {
		InitialState struct {
			Listing struct {
				Pagination []paginationControl `json:"pagination"`
			} `json:"listing"`
		} `json:"initialState"`
	} `json:"props"`
}

type paginationControl struct {
	Label string  `json:"label"`
	Token *string `json:"token"`
	Num   int     `json:"num"`
}

// ExtractListing collects priced detail links and the next-page cursor.
func ExtractListing(doc *goquery.Document) Listing {
	var listing Listing
	if doc == nil {
		return listing
	}

	doc.Find("section").Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		price := card.Find(listingPriceSelector).First()
		if price.Length() == 0 {
			price = card.Find(listingPriceFallbackSelector).First()
		}
		if DigitsOnly(price.Text()) == "" {
			return
		}

		listing.Links = append(listing.Links, resolve(doc.Url, stripQuery(strings.TrimSpace(href))))
	})

	listing.NextToken, listing.Err = nextToken(doc)
	return listing
}

func nextToken(doc *goquery.Document) (string, error) {
	script := doc.Find(nextDataSelector).First()
	if script.Length() == 0 {
		return "", nil
	}

	var data nextData
	if err := json.Unmarshal([]byte(script.Text()), &data); err != nil {
		return "", fmt.Errorf("decode pagination payload: %w", err)
	}

	for _, control := range data.Props.InitialState.Listing.Pagination {
		if control.Label == nextPageLabel && control.Token != nil {
			return *control.Token, nil
		}
	}
	return "", nil
}

// NextPageURL returns listingURL with its cursor parameter set to token.
func NextPageURL(listingURL, token string) (string, error) {
	parsed, err := url.Parse(listingURL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	query := parsed.Query()
	query.Set("cursor", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
