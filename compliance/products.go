package compliance

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/warp/compliance-engine/ledger"
	"github.com/warp/compliance-engine/notify"
	"github.com/warp/compliance-engine/settlement"
)

// investorFanOut bounds concurrent delisting notices.
const investorFanOut = 8

// =============================================================================
// ADD PRODUCT
// =============================================================================

func (d *Dispatcher) resolveAddProduct(ctx context.Context, res *resolution, a ledger.AddProduct) error {
	const op = "compliance.add_product"

	unlock := d.locks.Lock(productKey(a.ProductID))
	defer unlock()

	product, err := d.loadProduct(ctx, op, a.ProductID)
	if err != nil {
		return err
	}
	if product.Status != ledger.ProductProcessing {
		return ledger.Errorf(ledger.KindBusiness, op, nil, "product %s is %s", product.ID, product.Status)
	}

	if res.rejecting() {
		product.Status = ledger.ProductRejected
		if err := d.saveProduct(ctx, product); err != nil {
			return err
		}
		if err := d.reject(ctx, res); err != nil {
			return err
		}
		d.notifyUser(ctx, product.IssuerID, entityProduct, product.ID, ledger.NotifyWarning, "Product listing rejected",
			map[string]string{"name": product.Name, "remarks": res.req.Remarks})
		return nil
	}

	product.Status = ledger.ProductActive
	if err := d.saveProduct(ctx, product); err != nil {
		return err
	}

	receipt, err := d.settle(ctx, "settlement.create_product", func(ctx context.Context) (settlement.Receipt, error) {
		return d.settler.CreateProduct(ctx, product.IssuerID, product.ID, product.Name, product.Symbol, product.Quantity)
	})
	if err != nil {
		product.Status = ledger.ProductFailed
		if serr := d.saveProduct(ctx, product); serr != nil {
			d.log.ErrorContext(ctx, "product not marked failed",
				slog.String("product_id", product.ID),
				slog.String("error", serr.Error()),
			)
		}
		d.notifyUser(ctx, product.IssuerID, entityProduct, product.ID, ledger.NotifyError, "Product deployment failed",
			map[string]string{"name": product.Name})
		return d.stall(ctx, res, ledger.Errorf(ledger.KindBusiness, op, err, "deploy product %s", product.ID))
	}

	product.TransactionHash = receipt.TransactionHash
	if err := d.saveProduct(ctx, product); err != nil {
		return err
	}
	if err := d.accept(ctx, res, receipt.TransactionHash); err != nil {
		return err
	}
	d.notifyUser(ctx, product.IssuerID, entityProduct, product.ID, ledger.NotifySuccess, "Product listing approved",
		map[string]string{"name": product.Name, "symbol": product.Symbol})
	return nil
}

// =============================================================================
// DEACTIVATE PRODUCT
// =============================================================================

func (d *Dispatcher) resolveDeactivateProduct(ctx context.Context, res *resolution, a ledger.DeactivateProduct) error {
	const op = "compliance.deactivate_product"

	unlock := d.locks.Lock(productKey(a.ProductID))
	defer unlock()

	product, err := d.loadProduct(ctx, op, a.ProductID)
	if err != nil {
		return err
	}

	if res.rejecting() {
		product.IsRequestDeactivate = false
		if err := d.saveProduct(ctx, product); err != nil {
			return err
		}
		if err := d.reject(ctx, res); err != nil {
			return err
		}
		d.notifyUser(ctx, product.IssuerID, entityProduct, product.ID, ledger.NotifyWarning, "Product deactivation rejected",
			map[string]string{"name": product.Name, "remarks": res.req.Remarks})
		return nil
	}

	var hash string
	if product.FullyReturned() {
		receipt, err := d.settle(ctx, "settlement.burn", func(ctx context.Context) (settlement.Receipt, error) {
			return d.settler.Burn(ctx, product.ID, product.IssuerID, product.Quantity)
		})
		if err != nil {
			return d.stall(ctx, res, err)
		}
		hash = receipt.TransactionHash
		product.BurnTransactionHash = hash
	} else if err := d.noticeDelisting(ctx, product); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	product.Status = ledger.ProductInactive
	product.IsRequestDeactivate = false
	if err := d.saveProduct(ctx, product); err != nil {
		return err
	}
	if err := d.accept(ctx, res, hash); err != nil {
		return err
	}
	d.notifyUser(ctx, product.IssuerID, entityProduct, product.ID, ledger.NotifySuccess, "Product deactivated",
		map[string]string{"name": product.Name})
	return nil
}

// noticeDelisting tells every investor still holding the product that it
// is being delisted.
func (d *Dispatcher) noticeDelisting(ctx context.Context, product *ledger.Product) error {
	holdings, err := d.store.ListHoldingsByProduct(ctx, product.ID)
	if err != nil {
		return fmt.Errorf("list holdings of %s: %w", product.ID, err)
	}

	var g errgroup.Group
	g.SetLimit(investorFanOut)
	for _, h := range holdings {
		if h.AvailableVolume <= 0 {
			continue
		}
		g.Go(func() error {
			d.notifyUser(ctx, h.InvestorID, entityProduct, product.ID, ledger.NotifyWarning, "Product will be delisted",
				map[string]string{"name": product.Name, "volume": fmt.Sprint(h.AvailableVolume)})
			investor, err := d.store.GetUser(ctx, h.InvestorID)
			if err != nil || investor == nil {
				return nil
			}
			d.notifier.SendEmail(ctx, notify.Email{
				To:      investor.Email,
				Subject: product.Name + " will be delisted",
				Body: fmt.Sprintf("Hello %s,\n\n%s (%s) is being delisted. You hold %d tickets; please return them to the issuer.\n",
					investor.Name, product.Name, product.Symbol, h.AvailableVolume),
			})
			return nil
		})
	}
	return g.Wait()
}
