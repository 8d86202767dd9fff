package iap

import "context"

// ProductDetails is the normalized product shown on the paywall.
// Empty DisplayPrice or Currency means the store did not provide one.
type ProductDetails struct {
	ID           string
	Title        string
	Description  string
	DisplayPrice string
	Currency     string
}

// LoadProductDetails returns the details for productID, from cache when
// possible. It returns nil when native purchases are unavailable, the store
// has no such product or the lookup fails.
func (o *Orchestrator) LoadProductDetails(ctx context.Context, productID string) *ProductDetails {
	if !o.nativeAvailable() || productID == "" {
		return nil
	}

	o.mu.Lock()
	cached := o.product
	o.mu.Unlock()
	if cached != nil && cached.ID == productID {
		return cached
	}

	if err := o.InitConnection(ctx); err != nil {
		o.log.Warn("failed to load product", "product_id", productID, "error", err)
		return nil
	}

	products, err := o.store.FetchProducts(ctx, []string{productID}, ProductTypeSubscription)
	if err != nil {
		o.log.Warn("failed to load product", "product_id", productID, "error", err)
		return nil
	}

	for _, product := range products {
		details := mapProductDetails(product)
		if details.ID != productID {
			continue
		}
		o.mu.Lock()
		o.product = details
		o.mu.Unlock()
		o.log.Debug("product details cached", "product_id", details.ID, "price", details.DisplayPrice)
		return details
	}

	o.log.Info("product not found", "product_id", productID, "results", len(products))
	return nil
}

func mapProductDetails(product Product) *ProductDetails {
	id := product.ProductID
	if id == "" {
		id = product.ID
	}
	price := product.DisplayPrice
	if price == "" {
		price = product.LocalizedPrice
	}
	return &ProductDetails{
		ID:           id,
		Title:        product.Title,
		Description:  product.Description,
		DisplayPrice: price,
		Currency:     product.Currency,
	}
}
