package chat

import (
	"context"
	"example.com/backstage/services/orderbot/internal/catalog"
	"example.com/backstage/services/orderbot/internal/conversation"
	"example.com/backstage/services/orderbot/internal/messaging"
	"example.com/backstage/services/orderbot/internal/metrics"
	"example.com/backstage/services/orderbot/internal/repositories"
	"example.com/backstage/services/orderbot/internal/services"
	"example.com/backstage/services/orderbot/internal/utils"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Named flows started from outside a conversation
const (
	FlowRegister = "REGISTER_FLOW"
	FlowSamples  = "SAMPLES"
)

// ErrUnknownFlow is returned by Trigger for a flow it does not know
var ErrUnknownFlow = errors.New("unknown flow")

type command string

const (
	cmdWelcome         command = "welcome"
	cmdOrder           command = "order"
	cmdConfirm         command = "confirm"
	cmdCorrectClient   command = "correct_client"
	cmdCorrectSupplier command = "correct_supplier"
	cmdCatalog         command = "catalog"
	cmdLookup          command = "lookup"
	cmdStatus          command = "status"
	cmdCancel          command = "cancel"
	cmdStats           command = "stats"
)

// Keywords match the whole normalized message
var keywords = map[string]command{
	"hola":               cmdWelcome,
	"hi":                 cmdWelcome,
	"hello":              cmdWelcome,
	"buenas":             cmdWelcome,
	"pedido":             cmdOrder,
	"nuevo pedido":       cmdOrder,
	"orden":              cmdOrder,
	"comprar":            cmdOrder,
	"confirmar":          cmdConfirm,
	"corregir cliente":   cmdCorrectClient,
	"cambiar cliente":    cmdCorrectClient,
	"corregir proveedor": cmdCorrectSupplier,
	"cambiar proveedor":  cmdCorrectSupplier,
	"catalogo":           cmdCatalog,
	"buscar pedido":      cmdLookup,
	"consultar estado":   cmdStatus,
	"cancelar pedido":    cmdCancel,
	"mis estadisticas":   cmdStats,
}

// MatchKeyword returns the command named by a whole message
func MatchKeyword(text string) (string, bool) {
	cmd, ok := keywords[utils.NormalizeText(text)]
	return string(cmd), ok
}

// turn is one user message as the handlers see it
type turn struct {
	Text string
	Name string
}

type handlerFunc func(ctx context.Context, state *conversation.State, in turn) ([]string, error)

// Deps are the collaborators of a Dispatcher
type Deps struct {
	States    conversation.Store
	Store     *repositories.Store
	Resolver  *catalog.Resolver
	Assembler *services.Assembler
	Confirmer *services.Confirmer
	Orders    *services.OrderService
	Messenger messaging.Messenger
	Blacklist *Blacklist
	Metrics   *metrics.Metrics
}

// Dispatcher routes each inbound message to a command or to the capture the
// conversation is waiting for, then saves state and sends the replies
type Dispatcher struct {
	Deps
	locks    *conversationLocks
	commands map[command]handlerFunc
	captures map[conversation.Step]handlerFunc
}

// NewDispatcher creates a dispatcher
func NewDispatcher(deps Deps) *Dispatcher {
	d := &Dispatcher{Deps: deps, locks: newConversationLocks()}

	d.commands = map[command]handlerFunc{
		cmdWelcome:         d.welcome,
		cmdOrder:           d.startOrder,
		cmdConfirm:         d.confirm,
		cmdCorrectClient:   d.ask(conversation.StepCorrectClientPhone, "Escribe el número de teléfono del cliente correcto."),
		cmdCorrectSupplier: d.ask(conversation.StepCorrectSupplierPhone, "Escribe el número de teléfono del proveedor correcto."),
		cmdCatalog:         d.ask(conversation.StepCatalogSupplierPhone, "¿Cuál es el número de teléfono del proveedor?"),
		cmdLookup:          d.ask(conversation.StepLookupCode, "Escribe el código de seguimiento del pedido."),
		cmdStatus:          d.ask(conversation.StepStatusCode, "Escribe el código de seguimiento del pedido."),
		cmdCancel:          d.ask(conversation.StepCancelCode, "Escribe el código de seguimiento del pedido que quieres cancelar."),
		cmdStats:           d.ask(conversation.StepStatsClientPhone, "¿Cuál es el número de teléfono del cliente?"),
	}

	d.captures = map[conversation.Step]handlerFunc{
		conversation.StepOrderClientPhone:     d.captureOrderClient,
		conversation.StepOrderSupplierPhone:   d.captureOrderSupplier,
		conversation.StepOrderText:            d.captureOrderText,
		conversation.StepCorrectClientPhone:   d.captureCorrectClient,
		conversation.StepCorrectSupplierPhone: d.captureCorrectSupplier,
		conversation.StepCatalogSupplierPhone: d.captureCatalogSupplier,
		conversation.StepStatsClientPhone:     d.captureStatsClient,
		conversation.StepLookupCode:           d.captureLookup,
		conversation.StepStatusCode:           d.captureStatus,
		conversation.StepCancelCode:           d.captureCancel,
	}

	return d
}

// HandleInbound processes one user message. Only a failure to load the
// conversation is returned; everything later is answered to the user.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg messaging.InboundMessage) error {
	from := utils.NormalizePhone(msg.From)

	if d.Blacklist != nil {
		blocked, err := d.Blacklist.Contains(ctx, from)
		if err != nil {
			log.Warn().Err(err).Str("from", from).Msg("Failed to check blacklist, continuing")
		} else if blocked {
			log.Debug().Str("from", from).Msg("Ignoring blacklisted number")
			d.Metrics.RecordMessage("blacklisted", "ignored")
			return nil
		}
	}

	if msg.Type != "" && msg.Type != "text" {
		return d.send(ctx, from, []string{"Por ahora solo puedo leer mensajes de texto."})
	}

	unlock := d.locks.Lock(from)
	defer unlock()

	state, err := d.States.Load(ctx, from)
	if err != nil {
		return errors.Wrap(err, "failed to load conversation")
	}

	in := turn{Text: strings.TrimSpace(msg.Body), Name: msg.Name}
	flow, handler := d.route(state, in.Text)
	replies, outcome := d.run(ctx, handler, state, in, flow)

	if err := d.States.Save(ctx, state); err != nil {
		log.Error().Err(err).Str("conversation_id", from).Str("outcome", outcome).Msg("Failed to save conversation state")
		// Completed work such as a persisted order is still reported
		if outcome != "ok" {
			replies = []string{GenericErrorMessage}
			outcome = "error"
		}
	}

	d.Metrics.RecordMessage(flow, outcome)
	return d.send(ctx, from, replies)
}

// Trigger starts a named flow for a number as if the user had asked for it
func (d *Dispatcher) Trigger(ctx context.Context, flow, number, name string) error {
	from := utils.NormalizePhone(number)

	var handler handlerFunc
	switch flow {
	case FlowRegister:
		handler = d.commands[cmdWelcome]
	case FlowSamples:
		handler = d.commands[cmdCatalog]
	default:
		return errors.Wrap(ErrUnknownFlow, flow)
	}

	unlock := d.locks.Lock(from)
	defer unlock()

	state, err := d.States.Load(ctx, from)
	if err != nil {
		return errors.Wrap(err, "failed to load conversation")
	}

	replies, outcome := d.run(ctx, handler, state, turn{Name: name}, flow)
	if err := d.States.Save(ctx, state); err != nil {
		return errors.Wrap(err, "failed to save conversation state")
	}

	d.Metrics.RecordMessage(flow, outcome)
	return d.send(ctx, from, replies)
}

func (d *Dispatcher) route(state *conversation.State, text string) (string, handlerFunc) {
	if cmd, ok := keywords[utils.NormalizeText(text)]; ok {
		return string(cmd), d.commands[cmd]
	}
	if handler, ok := d.captures[state.Awaiting]; ok {
		return string(state.Awaiting), handler
	}
	return "fallback", func(context.Context, *conversation.State, turn) ([]string, error) {
		return []string{fallbackMessage}, nil
	}
}

// run converts handler errors into replies. A rejection keeps the awaited step.
func (d *Dispatcher) run(ctx context.Context, handler handlerFunc, state *conversation.State, in turn, flow string) ([]string, string) {
	replies, err := handler(ctx, state, in)
	if err == nil {
		return replies, "ok"
	}

	if rejection, ok := services.IsRejection(err); ok {
		return []string{rejection.Message}, "rejected"
	}

	var confirmErr *services.ConfirmationError
	if errors.As(err, &confirmErr) {
		return []string{confirmationFailureMessage(confirmErr)}, "failed"
	}

	log.Error().
		Err(err).
		Str("conversation_id", state.ConversationID).
		Str("flow", flow).
		Str("awaiting", string(state.Awaiting)).
		Msg("Unexpected error handling message")
	return []string{GenericErrorMessage}, "error"
}

func (d *Dispatcher) send(ctx context.Context, to string, replies []string) error {
	for _, reply := range replies {
		if err := d.Messenger.SendText(ctx, to, reply); err != nil {
			log.Error().Err(err).Str("to", to).Msg("Failed to send reply")
		}
	}
	return nil
}

func (d *Dispatcher) ask(step conversation.Step, prompt string) handlerFunc {
	return func(ctx context.Context, state *conversation.State, _ turn) ([]string, error) {
		state.Awaiting = step
		return []string{prompt}, nil
	}
}
