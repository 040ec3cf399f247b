package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/passgate/passgate/internal/pkg/billing"
	"github.com/passgate/passgate/internal/pkg/roblox"
)

// OrderController serves the storefront: quotes, charges, direct purchases and order status.
type OrderController struct {
	svc *billing.Service
}

func NewOrderController(svc *billing.Service) *OrderController {
	return &OrderController{svc: svc}
}

type createChargeRequest struct {
	UserID      string     `json:"userId" validate:"required,max=191"`
	ItemID      FlexibleID `json:"itemId"`
	NetQuantity int64      `json:"netQuantity" validate:"gte=0"`
	SellerID    int64      `json:"sellerId" validate:"gte=0"`
	BuyerID     int64      `json:"buyerId" validate:"gte=0"`
}

// HandleCreateCharge prices the request, stores a pending order and returns the PIX charge.
func (oc *OrderController) HandleCreateCharge(c *fiber.Ctx) error {
	var req createChargeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	in := billing.CreateChargeInput{
		UserID:      req.UserID,
		NetQuantity: req.NetQuantity,
		SellerID:    req.SellerID,
		BuyerID:     req.BuyerID,
	}
	if req.ItemID != "" {
		id, err := roblox.ParseGamePassID(req.ItemID.String())
		if err != nil {
			return err
		}
		in.ItemID = id
	}

	res, err := oc.svc.CreateCharge(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

type resolveItemRequest struct {
	ItemID FlexibleID `json:"itemId" validate:"required"`
}

// HandleResolveItem returns the live price and seller of a Game Pass.
func (oc *OrderController) HandleResolveItem(c *fiber.Ctx) error {
	var req resolveItemRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	id, err := roblox.ParseGamePassID(req.ItemID.String())
	if err != nil {
		return err
	}
	quote, err := oc.svc.ResolveItem(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"itemId":    id,
		"productId": quote.ProductID,
		"price":     quote.Price,
		"sellerId":  quote.SellerID,
	})
}

// HandleListItems lists the Game Passes of an experience given as ?experience=<id or URL>.
func (oc *OrderController) HandleListItems(c *fiber.Ctx) error {
	experienceID, err := roblox.ParseExperienceID(c.Query("experience"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"experienceId": experienceID,
		"items":        oc.svc.ListItems(c.UserContext(), experienceID),
	})
}

type buyNowRequest struct {
	ItemID        FlexibleID `json:"itemId" validate:"required"`
	ExpectedPrice int64      `json:"expectedPrice" validate:"gt=0"`
	SellerID      int64      `json:"sellerId" validate:"gte=0"`
	BuyerID       int64      `json:"buyerId" validate:"gte=0"`
	BuyerUsername string     `json:"buyerUsername" validate:"max=64"`
	UserID        string     `json:"userId" validate:"max=191"`
}

// HandleBuyNow purchases an item immediately, bypassing the charge and webhook flow.
func (oc *OrderController) HandleBuyNow(c *fiber.Ctx) error {
	var req buyNowRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	id, err := roblox.ParseGamePassID(req.ItemID.String())
	if err != nil {
		return err
	}

	res, err := oc.svc.BuyNow(c.UserContext(), billing.BuyNowInput{
		ItemID:        id,
		ExpectedPrice: req.ExpectedPrice,
		SellerID:      req.SellerID,
		BuyerID:       req.BuyerID,
		BuyerUsername: req.BuyerUsername,
		UserID:        req.UserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// HandleOrderStatus returns an order and the buyer linked to its user.
func (oc *OrderController) HandleOrderStatus(c *fiber.Ctx) error {
	order, buyer, err := oc.svc.OrderStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"order": order, "user": buyer})
}

type linkBuyerRequest struct {
	UserID   string `json:"userId" validate:"required,max=191"`
	Username string `json:"username" validate:"required,max=64"`
}

// HandleLinkBuyer stores the platform account a storefront user buys for.
func (oc *OrderController) HandleLinkBuyer(c *fiber.Ctx) error {
	var req linkBuyerRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	buyer, err := oc.svc.LinkBuyer(c.UserContext(), req.UserID, req.Username)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": buyer})
}
