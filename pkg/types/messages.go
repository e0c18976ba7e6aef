package types

// Client -> Server (GET /ws?room=<room>)
// PlaceBet:
//   round_id: string
//   user_id: string
//   username: string // optional
//   amount: number // minor units, 100 per chip
//   amount_text: string // optional, decimal chips like "2.50", used when amount is 0
//   balance_type: "chip" | "coupon" // default chip
//   data: object // game choices, e.g. { side: "heads" }
//
// Cashout:
//   round_id: string
//   bet_id: string

// Server -> Client
// StateSnapshot: see snapshot.go
//
// Countdown (once per second):
//   room: string
//   countdown: [{ round_id, status, remaining, seconds, text, multiplier? }]
//   multiplier is the live crash multiplier while a crash round is playing
//
// BetAccepted:
//   bet: Bet // pending until the game server confirms with newBet
//
// CashoutRequested: {} // multiplier follows in the next snapshot
//   if the request cannot reach the game server an Error is sent and the bet is no
//   longer pending
//
// Error:
//   error: string

// Game server envelope (upstream, both directions)
//   type: "event" | "visit"
//   room: string
//   content: string // JSON encoded
//
// event content: { event: string, data: object }
//   inbound:  setRound | setGameData | endRound | cancelRound | setPending |
//             newBet | betRejected | cashoutAck | setBalance
//   outbound: placeBet | cashout
//
// visit content (server reply): { active: RoundPatch[], history: Round[], pending: boolean }
