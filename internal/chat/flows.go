package chat

import (
	"context"
	"example.com/backstage/services/orderbot/internal/conversation"
	"example.com/backstage/services/orderbot/internal/repositories"
	"example.com/backstage/services/orderbot/internal/services"
	"example.com/backstage/services/orderbot/internal/utils"

	"github.com/pkg/errors"
)

func (d *Dispatcher) welcome(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	state.Awaiting = conversation.StepNone
	return []string{welcomeMessage(in.Name)}, nil
}

func (d *Dispatcher) startOrder(ctx context.Context, state *conversation.State, _ turn) ([]string, error) {
	state.Reset()
	state.Awaiting = conversation.StepOrderClientPhone
	return []string{"Vamos a registrar un pedido. ¿Cuál es el número de teléfono del cliente?"}, nil
}

func (d *Dispatcher) confirm(ctx context.Context, state *conversation.State, _ turn) ([]string, error) {
	confirmation, err := d.Confirmer.Confirm(ctx, state)
	if err != nil {
		return nil, err
	}
	state.Awaiting = conversation.StepNone
	return []string{confirmationMessage(confirmation)}, nil
}

func (d *Dispatcher) findClient(ctx context.Context, text string) (*conversation.Party, error) {
	phone := utils.NormalizePhone(text)
	if !utils.IsValidPhone(phone) {
		return nil, services.Reject("El número %q no es válido, escríbelo de nuevo.", text)
	}
	client, err := d.Store.Clients.GetByPhone(ctx, phone)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, services.Reject("No encontré un cliente con el número %s. Verifícalo y escríbelo de nuevo.", phone)
		}
		return nil, errors.Wrap(err, "failed to find client")
	}
	return &conversation.Party{ID: client.ID, Name: client.Name, Phone: client.Phone}, nil
}

func (d *Dispatcher) findSupplier(ctx context.Context, text string) (*conversation.Party, error) {
	phone := utils.NormalizePhone(text)
	if !utils.IsValidPhone(phone) {
		return nil, services.Reject("El número %q no es válido, escríbelo de nuevo.", text)
	}
	supplier, err := d.Store.Suppliers.GetByPhone(ctx, phone)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, services.Reject("No encontré un proveedor con el número %s. Verifícalo y escríbelo de nuevo.", phone)
		}
		return nil, errors.Wrap(err, "failed to find supplier")
	}
	return &conversation.Party{ID: supplier.ID, Name: supplier.Name, Phone: supplier.Phone}, nil
}

func (d *Dispatcher) catalog(ctx context.Context, supplier *conversation.Party) (string, error) {
	products, err := d.Resolver.Catalog(ctx, supplier.ID)
	if err != nil {
		return "", errors.Wrap(err, "failed to load catalog")
	}
	return catalogMessage(supplier.Name, products), nil
}

func (d *Dispatcher) captureOrderClient(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	client, err := d.findClient(ctx, in.Text)
	if err != nil {
		return nil, err
	}
	state.Client = client
	state.Awaiting = conversation.StepOrderSupplierPhone
	return []string{
		"Cliente: " + client.Name,
		"¿Cuál es el número de teléfono del proveedor?",
	}, nil
}

func (d *Dispatcher) captureOrderSupplier(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	supplier, err := d.findSupplier(ctx, in.Text)
	if err != nil {
		return nil, err
	}
	catalog, err := d.catalog(ctx, supplier)
	if err != nil {
		return nil, err
	}
	state.Supplier = supplier
	state.Awaiting = conversation.StepOrderText
	return []string{catalog, orderInstructions}, nil
}

func (d *Dispatcher) captureOrderText(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	result, err := d.Assembler.Submit(ctx, state, in.Text)
	if err != nil {
		return nil, err
	}

	switch {
	case result.Empty:
		return []string{nothingUnderstoodMessage}, nil
	case len(result.Errors) > 0:
		return []string{lineErrorsMessage(result.Errors)}, nil
	default:
		return []string{pendingOrderMessage(state.Pending)}, nil
	}
}

func (d *Dispatcher) captureCorrectClient(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	client, err := d.findClient(ctx, in.Text)
	if err != nil {
		return nil, err
	}
	state.Client = client
	if state.Pending != nil {
		state.Pending.ClientID = client.ID
	}
	state.Awaiting = conversation.StepNone

	replies := []string{"Cliente actualizado: " + client.Name}
	if !state.Pending.Empty() {
		replies = append(replies, "Escribe *confirmar* para registrar el pedido pendiente.")
	}
	return replies, nil
}

func (d *Dispatcher) captureCorrectSupplier(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	supplier, err := d.findSupplier(ctx, in.Text)
	if err != nil {
		return nil, err
	}
	catalog, err := d.catalog(ctx, supplier)
	if err != nil {
		return nil, err
	}

	replies := []string{"Proveedor actualizado: " + supplier.Name}
	if state.Pending != nil && state.Pending.SupplierID != supplier.ID {
		state.ClearPending()
		replies = append(replies, "El pedido pendiente era de otro proveedor y se descartó.")
	}
	state.Supplier = supplier

	if state.Client != nil {
		state.Awaiting = conversation.StepOrderText
		replies = append(replies, catalog, orderInstructions)
	} else {
		state.Awaiting = conversation.StepNone
		replies = append(replies, catalog)
	}
	return replies, nil
}

func (d *Dispatcher) captureCatalogSupplier(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	supplier, err := d.findSupplier(ctx, in.Text)
	if err != nil {
		return nil, err
	}
	catalog, err := d.catalog(ctx, supplier)
	if err != nil {
		return nil, err
	}
	state.ConsultSupplier = supplier
	state.Awaiting = conversation.StepNone
	return []string{catalog}, nil
}

func (d *Dispatcher) captureStatsClient(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	client, err := d.findClient(ctx, in.Text)
	if err != nil {
		return nil, err
	}
	stats, err := d.Orders.Stats(ctx, client.ID)
	if err != nil {
		return nil, err
	}
	state.ConsultClient = client
	state.Awaiting = conversation.StepNone
	return []string{statsMessage(client.Name, stats)}, nil
}

func orderNotFound(err error, code string) error {
	if errors.Is(err, services.ErrOrderNotFound) {
		return services.Reject("No encontré un pedido con el código %s. Verifícalo y escríbelo de nuevo.", services.NormalizeTrackingCode(code))
	}
	return err
}

func (d *Dispatcher) captureLookup(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	details, err := d.Orders.Lookup(ctx, in.Text)
	if err != nil {
		return nil, orderNotFound(err, in.Text)
	}
	state.Awaiting = conversation.StepNone
	return []string{orderDetailsMessage(details)}, nil
}

func (d *Dispatcher) captureStatus(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	order, err := d.Orders.Status(ctx, in.Text)
	if err != nil {
		return nil, orderNotFound(err, in.Text)
	}
	state.Awaiting = conversation.StepNone
	return []string{statusMessage(order)}, nil
}

func (d *Dispatcher) captureCancel(ctx context.Context, state *conversation.State, in turn) ([]string, error) {
	result, err := d.Orders.Cancel(ctx, in.Text)
	if err != nil {
		return nil, orderNotFound(err, in.Text)
	}
	state.Awaiting = conversation.StepNone
	return []string{cancelMessage(result)}, nil
}
