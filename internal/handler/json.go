package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopwave/internal/domain/assistant"
	"github.com/xenking/shopwave/internal/domain/cart"
	"github.com/xenking/shopwave/internal/domain/order"
	"github.com/xenking/shopwave/internal/domain/product"
	"github.com/xenking/shopwave/internal/domain/session"
)

var errBodyTooLarge = errors.New("request body too large")

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeBody reads at most limit bytes of the request body and decodes it
// as a JSON object.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return errBodyTooLarge
		}
		return errors.Wrap(err, "read body")
	}
	if err := jx.DecodeBytes(data).Obj(field); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

// encodeMoney writes d rounded to cents.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func imageOrPlaceholder(url string) string {
	if url == "" {
		return assistant.PlaceholderImageURL
	}
	return url
}

func encodeStrings(e *jx.Encoder, ss []string) {
	e.ArrStart()
	for _, s := range ss {
		e.Str(s)
	}
	e.ArrEnd()
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	encodeDecimal(e, p.Price)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("longDescription")
	e.Str(p.LongDescription)
	e.FieldStart("imageUrl")
	e.Str(imageOrPlaceholder(p.ImageURL))
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("colors")
	encodeStrings(e, p.Colors)
	e.FieldStart("sizes")
	encodeStrings(e, p.Sizes)
	if p.ImageHint != "" {
		e.FieldStart("dataAiHint")
		e.Str(p.ImageHint)
	}
	e.ObjEnd()
}

func encodeItems(e *jx.Encoder, items []assistant.Item) {
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("description")
		e.Str(it.Description)
		e.FieldStart("imageUrl")
		e.Str(imageOrPlaceholder(it.ImageURL))
		e.FieldStart("price")
		encodeDecimal(e, it.Price)
		if it.ImageHint != "" {
			e.FieldStart("dataAiHint")
			e.Str(it.ImageHint)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

// encodeCart writes the cart page: lines, item count, grand total and the
// recommendation section. Recommendation failures are not surfaced beyond
// the status.
func encodeCart(e *jx.Encoder, c *cart.Cart, feed session.FeedSnapshot) {
	e.ObjStart()
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range c.Lines() {
		e.ObjStart()
		e.FieldStart("product")
		encodeProduct(e, l.Product)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("subtotal")
		encodeMoney(e, l.Subtotal())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("itemCount")
	e.Int(c.ItemCount())
	e.FieldStart("total")
	encodeMoney(e, c.Total())
	e.FieldStart("recommendations")
	e.ObjStart()
	e.FieldStart("status")
	e.Str(string(feed.State))
	e.FieldStart("items")
	encodeItems(e, feed.Items)
	e.ObjEnd()
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("itemCount")
	e.Int(o.ItemCount)
	e.FieldStart("total")
	encodeMoney(e, o.Total)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.Format(time.RFC3339))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("unitPrice")
		encodeDecimal(e, it.UnitPrice)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// actionResult is the envelope returned by assistant actions.
type actionResult struct {
	success bool
	data    func(e *jx.Encoder)
	err     string
}

func writeAction(w http.ResponseWriter, status int, res actionResult) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(res.success)
		if res.data != nil {
			e.FieldStart("data")
			res.data(e)
		}
		if res.err != "" {
			e.FieldStart("error")
			e.Str(res.err)
		}
		e.ObjEnd()
	})
}
