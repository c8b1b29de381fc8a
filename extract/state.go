package extract

import (
	"encoding/json"
	"strings"
)

// pageState mirrors the slice of the embedded framework state blob that
// carries product data.
type pageState struct {
	Props struct {
		PageProps struct {
			Data struct {
				PageFolder struct {
					DataSourceConfigurations []struct {
						PreloadedValue struct {
							Product *productBlob `json:"product"`
						} `json:"preloadedValue"`
					} `json:"dataSourceConfigurations"`
				} `json:"pageFolder"`
			} `json:"data"`
		} `json:"pageProps"`
	} `json:"props"`
}

// product walks the blob to the first preloaded product, if any.
func (s *pageState) product() *productBlob {
	for _, dsc := range s.Props.PageProps.Data.PageFolder.DataSourceConfigurations {
		if dsc.PreloadedValue.Product != nil {
			return dsc.PreloadedValue.Product
		}
	}
	return nil
}

type productBlob struct {
	Name                string       `json:"name"`
	Description         string       `json:"description"`
	Slug                string       `json:"slug"`
	DesignIntent        stringOrList `json:"designIntent"`
	RetailPriceRange    []flexString `json:"retailPriceRange"`
	WholesalePriceRange []flexString `json:"wholesalePriceRange"`
	Variants            []struct {
		SKU string `json:"sku"`
	} `json:"variants"`
	Attributes struct {
		SKUName     stringOrList `json:"skuName"`
		ProductType stringOrList `json:"productType"`
		Gender      stringOrList `json:"gender"`
	} `json:"attributes"`
}

func (b *productBlob) sku() string {
	if len(b.Variants) == 0 {
		return ""
	}
	return b.Variants[0].SKU
}

func (b *productBlob) retailPrice() string {
	return firstFlex(b.RetailPriceRange)
}

func (b *productBlob) wholesalePrice() string {
	return firstFlex(b.WholesalePriceRange)
}

// description prefers the marketing copy, falling back to the design intent.
func (b *productBlob) description() string {
	if b.Description != "" {
		return b.Description
	}
	return string(b.DesignIntent)
}

func firstFlex(values []flexString) string {
	if len(values) == 0 {
		return ""
	}
	return string(values[0])
}

// flexString decodes JSON values the portal serializes inconsistently as
// either a string or a number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

// stringOrList decodes attribute values that arrive as a bare string or a
// list of strings; lists are joined with ", ".
type stringOrList string

func (s *stringOrList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = stringOrList(strings.Join(list, ", "))
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = stringOrList(str)
	return nil
}
