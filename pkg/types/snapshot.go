package types

// StateSnapshot:
//   room: string
//   version: number
//   state:
//     game: "coinflip" | "crash" | "jackpot" | "plinko" | "dreamtower"
//     active: Round[] // in-progress rounds, oldest first
//     history: Round[] // newest first, trimmed to a multiple of the game's window
//     filter: { kind: "all" | "mine" | "big", userId?: string, minAmount?: number }
//     pending: boolean
//     historyCursor: number // stored rounds already covered, the next "Show More" offset
//
// Round:
//   roundId, game, status ("betting" | "playing" | "resolved" | "cancelled"),
//   bets: Bet[] // largest stake first, totalAmount, multiplier, winner, startedAt,
//   phaseStartedAt // start of the current status, countdowns run from it, endedAt,
//   data: { [key]: any } // tower rows, plinko path, coin side
//
// Bet:
//   betId, userId, username, amount, balanceType ("chip" | "coupon"),
//   cashoutMultiplier, profit, pending, placedAt
