package harness

import (
	"fmt"

	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/storage"
	"github.com/Itshalffull/copf/internal/transport"
)

// DemoHandlers returns the reference Inventory/Cart concept implementations
// used by the cart_checkout_success and cart_checkout_insufficient_stock
// scenarios under testdata/scenarios. Inventory and Cart never share
// storage: Cart learns about stock only through the mirror-stock sync in
// testdata/specs/cart.sync, not by reaching into Inventory's handle.
func DemoHandlers() ConceptHandlers {
	return ConceptHandlers{
		"Inventory": transport.HandlerMap{
			"setStock": inventorySetStock,
		},
		"Cart": transport.HandlerMap{
			"mirrorStock": cartMirrorStock,
			"addItem":     cartAddItem,
			"checkout":    cartCheckout,
		},
	}
}

func inventorySetStock(input ir.Record, store storage.ConceptStorage) (string, ir.Record, error) {
	sku, ok := input["sku"].(ir.Str)
	if !ok {
		return "", nil, fmt.Errorf("setStock: missing or non-string sku")
	}
	quantity, ok := input["quantity"].(ir.Int)
	if !ok {
		return "", nil, fmt.Errorf("setStock: missing or non-int quantity")
	}

	store.Put("stock", string(sku), ir.Record{"sku": sku, "quantity": quantity})
	return "Success", ir.Record{"sku": sku, "quantity": quantity}, nil
}

func cartMirrorStock(input ir.Record, store storage.ConceptStorage) (string, ir.Record, error) {
	sku, ok := input["sku"].(ir.Str)
	if !ok {
		return "", nil, fmt.Errorf("mirrorStock: missing or non-string sku")
	}
	quantity, ok := input["quantity"].(ir.Int)
	if !ok {
		return "", nil, fmt.Errorf("mirrorStock: missing or non-int quantity")
	}

	store.Put("stock", string(sku), ir.Record{"sku": sku, "quantity": quantity})
	return "Mirrored", ir.Record{"sku": sku, "quantity": quantity}, nil
}

func cartAddItem(input ir.Record, store storage.ConceptStorage) (string, ir.Record, error) {
	cart, ok := input["cart"].(ir.Str)
	if !ok {
		return "", nil, fmt.Errorf("addItem: missing or non-string cart")
	}
	sku, ok := input["sku"].(ir.Str)
	if !ok {
		return "", nil, fmt.Errorf("addItem: missing or non-string sku")
	}
	quantity, ok := input["quantity"].(ir.Int)
	if !ok {
		return "", nil, fmt.Errorf("addItem: missing or non-int quantity")
	}

	key := string(cart) + "|" + string(sku)
	store.Put("items", key, ir.Record{"cart": cart, "sku": sku, "quantity": quantity})
	return "Added", ir.Record{"cart": cart, "sku": sku, "quantity": quantity}, nil
}

func cartCheckout(input ir.Record, store storage.ConceptStorage) (string, ir.Record, error) {
	cart, ok := input["cart"].(ir.Str)
	if !ok {
		return "", nil, fmt.Errorf("checkout: missing or non-string cart")
	}

	items := store.Find("items", storage.Filter{"cart": cart})

	var total int64
	for _, item := range items {
		sku := item["sku"].(ir.Str)
		wanted := int64(item["quantity"].(ir.Int))

		stockRec, found := store.Get("stock", string(sku))
		available := int64(0)
		if found {
			available = int64(stockRec["quantity"].(ir.Int))
		}

		if wanted > available {
			return "CheckoutFailed", ir.Record{"cart": cart, "sku": sku}, nil
		}
		total += wanted
	}

	for _, item := range items {
		sku := item["sku"].(ir.Str)
		wanted := int64(item["quantity"].(ir.Int))
		stockRec, _ := store.Get("stock", string(sku))
		remaining := int64(stockRec["quantity"].(ir.Int)) - wanted
		store.Put("stock", string(sku), ir.Record{"sku": sku, "quantity": ir.Int(remaining)})
	}

	return "Success", ir.Record{"cart": cart, "total": ir.Int(total)}, nil
}
