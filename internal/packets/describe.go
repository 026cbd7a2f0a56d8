package packets

import "fmt"

// Describe renders a one line, human readable summary of a frame. It never
// fails; undecodable frames are described as such.
func Describe(b []byte) string {
	t, err := DecodeType(b)
	if err != nil {
		return "Empty Packet"
	}
	switch t {
	case TypeTelemetry:
		tel, err := DecodeTelemetry(b)
		if err != nil {
			return "Balloon Telemetry: Invalid Packet"
		}
		return fmt.Sprintf("Balloon #%d Telemetry: %s,%d,%.5f,%.5f,%d,%d,%.2f,%.2f,%d,%d",
			tel.PayloadID, tel.Time(), tel.Counter, tel.Latitude, tel.Longitude, tel.Altitude,
			tel.Sats, tel.BatteryVoltage(), tel.PyroVoltage(), tel.RxPktCount, tel.RSSI())
	case TypeShortTelemetry:
		tel, err := DecodeShortTelemetry(b)
		if err != nil {
			return "Short Telemetry: Invalid Packet"
		}
		return fmt.Sprintf("Short Telemetry: ID:%d %s,%.6f,%.6f,%d,%.2f",
			tel.PayloadID, tel.Time(), tel.Latitude, tel.Longitude, tel.Sats, tel.BatteryVoltage())
	case TypeTextMessage:
		msg, err := DecodeTextMessage(b)
		if err != nil {
			return "Text Message: Invalid Packet"
		}
		if msg.Flags.Repeated {
			return fmt.Sprintf("Repeated Text Message: <%s> %s", msg.Source, msg.Message)
		}
		return fmt.Sprintf("Text Message: <%s> %s", msg.Source, msg.Message)
	case TypeCutdown:
		return "Cutdown Command"
	case TypeParamChange:
		return "Parameter Change"
	case TypeCommandAck:
		ack, err := DecodeCommandAck(b)
		if err != nil {
			return "Command ACK: Invalid Packet"
		}
		return fmt.Sprintf("Command ACK, Payload #%d : [R: %d dBm, S:%.1fdB] %s %s",
			ack.PayloadID, ack.RSSI, ack.SNR, ack.Name(), ack.Argument())
	case TypeSSDVFEC, TypeSSDVNoFEC:
		info, err := DecodeSSDVInfo(b)
		if err != nil {
			return "SSDV: Invalid Length"
		}
		kind := "No-FEC"
		if info.FEC {
			kind = "FEC"
		}
		return fmt.Sprintf("SSDV: %s, Img:%d, Pkt:%d, %dx%d", kind, info.ImageID, info.PacketID, info.Width, info.Height)
	case TypeSlotRequest:
		req, err := DecodeSlotRequest(b)
		if err != nil {
			return "Slot Request: Invalid Packet"
		}
		if !req.IsResponse() {
			return fmt.Sprintf("Slot Request: %s requested a slot from #%d", req.Callsign, req.SourceID)
		}
		return fmt.Sprintf("Slot Response: %s was given slot ID %d from #%d", req.Callsign, req.SlotID, req.SourceID)
	case TypeCarTelemetry:
		car, err := DecodeCarTelemetry(b)
		if err != nil {
			return "Car Telemetry: Invalid Packet"
		}
		via := "(direct)"
		if car.Flags.Repeated {
			via = fmt.Sprintf("(via #%d)", car.SourceID)
		}
		return fmt.Sprintf("Car Telemetry %s: %s %.5f,%.5f %d kph [%s]",
			via, car.Callsign, car.Latitude, car.Longitude, car.Speed, car.Message)
	default:
		return "Unknown Payload"
	}
}
