package install

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys. The key doubles as the English text.
const (
	MsgDownloading       = "Downloading reference from %s"
	MsgDownloaded        = "✓ Reference downloaded: %s"
	MsgInstallStarting   = "Starting installation from local file..."
	MsgUpdateStarting    = "Starting update of %s..."
	MsgTransportFailed   = "Error downloading reference: %v"
	MsgHTTPStatus        = "HTTP error: %d %s"
	MsgDecodeFailed      = "Error reading content: %v"
	MsgPersistFailed     = "Error saving file: %v"
	MsgSpawnFailed       = "Failed to spawn %s: %v"
	MsgNotifyFailed      = "Failed to emit %s: %v"
	MsgInvalidIdentifier = "Invalid package identifier: %v"
	MsgInProgress        = "An operation is already in progress for this package"
	MsgStreamClosed      = "The installer stopped without reporting an exit code"
	MsgExitCode          = "The installer exited with code %d"
	MsgCancelled         = "Operation cancelled"
	MsgUnexpected        = "Unexpected error: %v"
	MsgFinished          = "Installer finished with exit code %d"
	MsgDescriptorSaved   = "Descriptor saved at %s"
	MsgServerVersion     = "Server version: %s"
	MsgIncompatible      = "Server version %s is not compatible with client %s"
	MsgIdle              = "No operations in progress"
	MsgInFlight          = "In progress: %s (session %s)"
	MsgInstallerProcess  = "Installer process: %d (%s)"
	MsgWatchers          = "Connected watchers: %d"
	MsgDropped           = "%d notifications dropped"
	MsgHistoryEmpty      = "No operations recorded"
)

//nolint:gochecknoglobals // The catalog is registered once per process.
var registerOnce sync.Once

// registerCatalog installs the Spanish translations in the default catalog.
func registerCatalog() {
	translations := map[string]string{
		MsgDownloading:       "Descargando referencia desde %s",
		MsgDownloaded:        "✓ Referencia descargada: %s",
		MsgInstallStarting:   "Iniciando instalación desde archivo local...",
		MsgUpdateStarting:    "Iniciando actualización de %s...",
		MsgTransportFailed:   "Error descargando referencia: %v",
		MsgHTTPStatus:        "Error HTTP: %d %s",
		MsgDecodeFailed:      "Error leyendo contenido: %v",
		MsgPersistFailed:     "Error guardando archivo: %v",
		MsgSpawnFailed:       "No se pudo iniciar %s: %v",
		MsgNotifyFailed:      "No se pudo emitir %s: %v",
		MsgInvalidIdentifier: "Identificador de paquete no válido: %v",
		MsgInProgress:        "Ya hay una operación en curso para este paquete",
		MsgStreamClosed:      "El instalador terminó sin informar el código de salida",
		MsgExitCode:          "El instalador terminó con código %d",
		MsgCancelled:         "Operación cancelada",
		MsgUnexpected:        "Error inesperado: %v",
		MsgFinished:          "El instalador finalizó con código %d",
		MsgDescriptorSaved:   "Referencia guardada en %s",
		MsgServerVersion:     "Versión del servidor: %s",
		MsgIncompatible:      "La versión del servidor %s no es compatible con el cliente %s",
		MsgIdle:              "No hay operaciones en curso",
		MsgInFlight:          "En curso: %s (sesión %s)",
		MsgInstallerProcess:  "Proceso del instalador: %d (%s)",
		MsgWatchers:          "Clientes conectados: %d",
		MsgDropped:           "%d notificaciones descartadas",
		MsgHistoryEmpty:      "No hay operaciones registradas",
	}

	for key, text := range translations {
		// SetString only fails for malformed tags.
		_ = message.SetString(language.Spanish, key, text)
	}
}

// NewPrinter returns a printer for the locale ("es" or "en"); unknown locales fall back to Spanish.
func NewPrinter(locale string) *message.Printer {
	registerOnce.Do(registerCatalog)

	tag := language.Spanish
	if locale == "en" {
		tag = language.English
	}

	return message.NewPrinter(tag)
}

// Message converts a pipeline error into the human-readable text returned to the user interface.
//
//nolint:cyclop // One branch per error class of the taxonomy.
func Message(p *message.Printer, err error) string {
	var (
		fetchErr  *FetchError
		spawnErr  *SpawnError
		notifyErr *NotifyError
		exitErr   *ExitError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidIdentifier):
		return p.Sprintf(MsgInvalidIdentifier, err)
	case errors.Is(err, ErrAlreadyInProgress):
		return p.Sprintf(MsgInProgress)
	case errors.As(err, &notifyErr):
		return p.Sprintf(MsgNotifyFailed, notifyErr.Event, notifyErr.Err)
	case errors.As(err, &fetchErr):
		return fetchMessage(p, fetchErr)
	case errors.As(err, &spawnErr):
		return p.Sprintf(MsgSpawnFailed, spawnErr.Program, spawnErr.Err)
	case errors.As(err, &exitErr):
		return p.Sprintf(MsgExitCode, exitErr.Code)
	case errors.Is(err, ErrStreamClosed):
		return p.Sprintf(MsgStreamClosed)
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return p.Sprintf(MsgCancelled)
	default:
		return p.Sprintf(MsgUnexpected, err)
	}
}

func fetchMessage(p *message.Printer, err *FetchError) string {
	switch err.Kind {
	case FetchHTTPStatus:
		return p.Sprintf(MsgHTTPStatus, err.StatusCode, http.StatusText(err.StatusCode))
	case FetchDecode:
		return p.Sprintf(MsgDecodeFailed, err.Err)
	case FetchPersist:
		return p.Sprintf(MsgPersistFailed, err.Err)
	default:
		return p.Sprintf(MsgTransportFailed, err.Err)
	}
}
