package chat

import (
	"example.com/backstage/services/orderbot/internal/conversation"
	"example.com/backstage/services/orderbot/internal/models"
	"example.com/backstage/services/orderbot/internal/services"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const dateLayout = "02/01/2006"

// GenericErrorMessage answers any unexpected failure
const GenericErrorMessage = "Ocurrió un error inesperado, por favor intenta de nuevo."

const fallbackMessage = "No entendí tu mensaje. Escribe *hola* para ver las opciones."

var statusLabels = map[models.OrderStatus]string{
	models.OrderStatusPending:   "Pendiente",
	models.OrderStatusInProcess: "En proceso",
	models.OrderStatusCompleted: "Completado",
	models.OrderStatusCancelled: "Cancelado",
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func statusLabel(status models.OrderStatus) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return string(status)
}

func welcomeMessage(name string) string {
	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "¡Hola %s! ", name)
	} else {
		b.WriteString("¡Hola! ")
	}
	b.WriteString("Soy el asistente de pedidos. Puedes escribir:\n")
	b.WriteString("• *pedido* para registrar un pedido nuevo\n")
	b.WriteString("• *catalogo* para ver los productos de un proveedor\n")
	b.WriteString("• *buscar pedido* para ver el detalle de un pedido\n")
	b.WriteString("• *consultar estado* para ver el estado de un pedido\n")
	b.WriteString("• *cancelar pedido* para cancelar un pedido\n")
	b.WriteString("• *mis estadisticas* para ver el resumen de un cliente")
	return b.String()
}

func catalogMessage(supplier string, products []models.Product) string {
	if len(products) == 0 {
		return fmt.Sprintf("El proveedor %s no tiene productos registrados.", supplier)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📦 Catálogo de %s:\n", supplier)
	for _, p := range products {
		fmt.Fprintf(&b, "• %s (%s) talla %s: %s, stock %d\n", p.Name, p.Category, p.Size, money(p.UnitPrice), p.StockQuantity)
	}
	return strings.TrimRight(b.String(), "\n")
}

const orderInstructions = "Escribe los productos, uno por línea, con el formato:\n" +
	"<cantidad> <producto> talla <talla>\n" +
	"Por ejemplo: 3 camisetas talla M"

func pendingOrderMessage(order *conversation.TemporaryOrder) string {
	var b strings.Builder
	b.WriteString("🛒 Resumen del pedido:\n")
	for _, line := range order.Lines {
		fmt.Fprintf(&b, "• %d x %s talla %s a %s = %s\n", line.Quantity, line.ProductName, line.Size, money(line.UnitPrice), money(line.Subtotal))
	}
	fmt.Fprintf(&b, "Total: %s\n\n", money(order.Total))
	b.WriteString("Escribe *confirmar* para registrarlo, o envía la lista de nuevo para reemplazarlo.")
	return b.String()
}

func lineErrorsMessage(errs []services.LineError) string {
	var b strings.Builder
	b.WriteString("⚠️ No pudimos aceptar el pedido:\n")
	for _, e := range errs {
		b.WriteString("• ")
		b.WriteString(e.Message)
		b.WriteString("\n")
		if len(e.Suggestions) > 0 {
			names := make([]string, 0, len(e.Suggestions))
			for _, p := range e.Suggestions {
				names = append(names, fmt.Sprintf("%s talla %s", p.Name, p.Size))
			}
			fmt.Fprintf(&b, "  Productos disponibles: %s\n", strings.Join(names, ", "))
		}
	}
	b.WriteString("Corrige las líneas y envía la lista completa de nuevo.")
	return b.String()
}

const nothingUnderstoodMessage = "No entendí ningún producto. " + orderInstructions

func confirmationMessage(c *services.Confirmation) string {
	var b strings.Builder
	b.WriteString("✅ Pedido registrado\n")
	fmt.Fprintf(&b, "Código de seguimiento: *%s*\n", c.TrackingCode)
	fmt.Fprintf(&b, "Cliente: %s\n", c.ClientName)
	fmt.Fprintf(&b, "Proveedor: %s\n", c.SupplierName)
	for _, line := range c.Lines {
		fmt.Fprintf(&b, "• %d x %s talla %s = %s\n", line.Quantity, line.ProductName, line.Size, money(line.Subtotal))
	}
	fmt.Fprintf(&b, "Total: %s\n", money(c.Total))
	fmt.Fprintf(&b, "Entrega estimada: %s", c.EstimatedDeliveryAt.Format(dateLayout))
	for _, w := range c.Warnings {
		fmt.Fprintf(&b, "\n⚠️ %s", w)
	}
	return b.String()
}

func confirmationFailureMessage(e *services.ConfirmationError) string {
	cause := e.Err.Error()
	if e.HeaderSaved {
		return fmt.Sprintf("No se pudieron registrar los productos del pedido %s: %s. Tu pedido sigue pendiente, escribe *confirmar* para intentarlo de nuevo.", e.TrackingCode, cause)
	}
	return fmt.Sprintf("No se pudo registrar el pedido: %s. Tu pedido sigue pendiente, escribe *confirmar* para intentarlo de nuevo.", cause)
}

func orderDetailsMessage(d *services.OrderDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📄 Pedido *%s*\n", d.Order.TrackingCode)
	fmt.Fprintf(&b, "Estado: %s\n", statusLabel(d.Order.Status))
	fmt.Fprintf(&b, "Fecha: %s\n", d.Order.CreatedAt.Format(dateLayout))
	for _, line := range d.Lines {
		fmt.Fprintf(&b, "• %d x %s talla %s = %s\n", line.Quantity, line.ProductName, line.Size, money(line.Subtotal))
	}
	fmt.Fprintf(&b, "Total: %s\n", money(d.Order.Total))
	fmt.Fprintf(&b, "Entrega estimada: %s", d.Order.EstimatedDeliveryAt.Format(dateLayout))
	if d.Order.Notes != "" {
		fmt.Fprintf(&b, "\nNotas: %s", d.Order.Notes)
	}
	return b.String()
}

func statusMessage(order *models.Order) string {
	return fmt.Sprintf("El pedido *%s* está: *%s*\nÚltima actualización: %s\nEntrega estimada: %s",
		order.TrackingCode,
		statusLabel(order.Status),
		order.UpdatedAt.Format(dateLayout+" 15:04"),
		order.EstimatedDeliveryAt.Format(dateLayout))
}

func cancelMessage(result *services.CancelResult) string {
	if result.AlreadyCancelled {
		return fmt.Sprintf("El pedido *%s* ya estaba cancelado.", result.Order.TrackingCode)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "❌ El pedido *%s* fue cancelado y su stock devuelto.", result.Order.TrackingCode)
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "\n⚠️ %s", w)
	}
	return b.String()
}

func statsMessage(client string, s *services.ClientStats) string {
	if s.TotalOrders == 0 {
		return fmt.Sprintf("%s todavía no tiene pedidos registrados.", client)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Estadísticas de %s\n", client)
	fmt.Fprintf(&b, "Pedidos: %d\n", s.TotalOrders)
	for _, status := range models.OrderStatuses {
		fmt.Fprintf(&b, "• %s: %d\n", statusLabel(status), s.ByStatus[status])
	}
	fmt.Fprintf(&b, "Total gastado: %s\n", money(s.TotalSpent))
	fmt.Fprintf(&b, "Gasto promedio: %s\n", money(s.AverageSpent))
	if s.TopSupplierName != "" {
		fmt.Fprintf(&b, "Proveedor frecuente: %s (%d pedidos)\n", s.TopSupplierName, s.TopSupplierOrders)
	}
	fmt.Fprintf(&b, "Primer pedido: %s\n", s.FirstOrderAt.Format(dateLayout))
	fmt.Fprintf(&b, "Último pedido: %s\n", s.LastOrderAt.Format(dateLayout))
	fmt.Fprintf(&b, "Días activo: %d\n", s.ActiveDays)
	fmt.Fprintf(&b, "Pedidos por mes: %.2f", s.OrdersPerMonth)
	return b.String()
}
