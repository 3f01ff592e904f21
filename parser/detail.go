package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-notebooks/models"
)

const (
	titleSelector          = "h1.styles_brief_wrapper__title__Ksuxa"
	priceSelector          = "span.styles_main__eFbJH"
	discountPriceSelector  = "div.styles_discountPrice__WuQiu"
	descriptionSelector    = `div[itemprop="description"]`
	parameterSelector      = "div.styles_parameter_wrapper__L7UfK"
	parameterLabelSelector = "div.styles_parameter_label__i_OkS"
	parameterValueSelector = "div.styles_parameter_value__BkYDy"
	imageSelector          = "img.styles_slide__image__AV4nX.styles_slide__image__vertical__okVaq"
)

// ExtractDetail builds a notebook record from its detail page. Missing
// elements leave the matching field empty; only an unparseable price
// rejects the page.
func ExtractDetail(pageURL string, doc *goquery.Document) (*models.Notebook, error) {
	if doc == nil {
		return nil, fmt.Errorf("detail %s: nil document", pageURL)
	}

	notebook := &models.Notebook{URL: pageURL}

	if title := doc.Find(titleSelector).First(); title.Length() > 0 {
		notebook.Title = NormalizeText(title.Text())
	}

	price, err := ParsePrice(priceText(doc))
	if err != nil {
		return nil, fmt.Errorf("detail %s: %w", pageURL, err)
	}
	notebook.Price = price

	if description := doc.Find(descriptionSelector).First(); description.Length() > 0 {
		notebook.Description = strings.TrimSpace(description.Text())
	}

	doc.Find(parameterSelector).Each(func(_ int, param *goquery.Selection) {
		label := param.Find(parameterLabelSelector).First()
		value := param.Find(parameterValueSelector).First()
		if label.Length() == 0 || value.Length() == 0 {
			return
		}
		SetAttribute(notebook, NormalizeText(label.Text()), NormalizeText(value.Text()))
	})

	doc.Find(imageSelector).Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		notebook.Images = append(notebook.Images, resolve(doc.Url, strings.TrimSpace(src)))
	})

	return notebook, nil
}

// priceText prefers the discounted price over the regular one.
func priceText(doc *goquery.Document) string {
	main := doc.Find(priceSelector).First()
	if discount := main.Find(discountPriceSelector).First(); discount.Length() > 0 {
		return discount.Text()
	}
	return main.Text()
}
