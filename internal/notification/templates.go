package notification

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

const signature = "The Fulfillment Team"

func PaymentConfirmed(orderID uuid.UUID, total decimal.Decimal, currency, shippingFormURL, recipient string) Message {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "Your payment for order #%s has been confirmed.\n", orderID)
	fmt.Fprintf(&b, "Amount: %s %s\n\n", total.StringFixed(2), strings.ToUpper(currency))
	b.WriteString("Last step: please provide your shipping address here:\n")
	fmt.Fprintf(&b, "%s\n\n", shippingFormURL)
	b.WriteString("We cannot ship your order without this information.\n\n")
	b.WriteString(signature)

	return Message{
		Key:        orderID.String(),
		Subject:    fmt.Sprintf("Payment confirmed - Order #%s", orderID),
		Body:       b.String(),
		Recipients: []string{recipient},
	}
}

func StockFailureRefund(orderID uuid.UUID, recipient string) Message {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "Your order #%s has been refunded automatically.\n", orderID)
	b.WriteString("Reason: the item sold out concurrently and the remaining stock was not sufficient.\n\n")
	b.WriteString("The refund was initiated immediately. Depending on your bank it may take a few days to appear.\n\n")
	b.WriteString(signature)

	return Message{
		Key:        orderID.String(),
		Subject:    "Automatic refund - out of stock",
		Body:       b.String(),
		Recipients: []string{recipient},
	}
}

// StockFailureRefundPending is sent when the order lost its stock but the
// refund could not be confirmed yet.
func StockFailureRefundPending(orderID uuid.UUID, recipient string) Message {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "Your payment for order #%s was received, but the item sold out concurrently.\n", orderID)
	b.WriteString("Your refund is being processed and you will receive it shortly. No action is needed on your side.\n\n")
	b.WriteString(signature)

	return Message{
		Key:        orderID.String(),
		Subject:    "Out of stock - refund in progress",
		Body:       b.String(),
		Recipients: []string{recipient},
	}
}

type Address struct {
	FirstName  string
	Address    string
	PostalCode string
	City       string
}

func InformationReceived(orderID uuid.UUID, total decimal.Decimal, currency string, addr Address, recipient string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", addr.FirstName)
	fmt.Fprintf(&b, "We have received your shipping information for order #%s.\n", orderID)
	fmt.Fprintf(&b, "Amount: %s %s\n\n", total.StringFixed(2), strings.ToUpper(currency))
	b.WriteString("Shipping address:\n")
	fmt.Fprintf(&b, "%s\n%s %s\n\n", addr.Address, addr.PostalCode, addr.City)
	b.WriteString(signature)

	return Message{
		Key:        orderID.String(),
		Subject:    fmt.Sprintf("Information received - Order #%s", orderID),
		Body:       b.String(),
		Recipients: []string{recipient},
	}
}
